package units

import (
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

const maxCodeLength = 16

func (s *Service) validate(u Unit) error {
	if strings.TrimSpace(u.Code) == "" {
		return fmt.Errorf("unit code: %w", shared.ErrRequiredField)
	}
	if len(u.Code) > maxCodeLength {
		return fmt.Errorf("unit code exceeds %d characters: %w", maxCodeLength, shared.ErrValidation)
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("unit name: %w", shared.ErrRequiredField)
	}
	return nil
}
