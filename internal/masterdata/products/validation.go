package products

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

// factorScale is the stored precision of conversion factors.
const factorScale = 6

var factorOne = decimal.NewFromInt(1)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("product code: %w", shared.ErrRequiredField)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product name: %w", shared.ErrRequiredField)
	}
	if p.MainUnitID <= 0 {
		return fmt.Errorf("product main unit: %w", shared.ErrRequiredField)
	}
	return nil
}

// validateConversions rounds factors to the stored scale, rejects duplicates
// and non-positive factors, and guarantees the main unit's factor-1 row.
func (s *Service) validateConversions(product Product, convs []Conversion) ([]Conversion, error) {
	seen := make(map[int64]bool, len(convs))
	normalized := make([]Conversion, 0, len(convs)+1)
	mainSeen := false

	for _, c := range convs {
		if c.UnitID <= 0 {
			return nil, fmt.Errorf("conversion unit id: %w", shared.ErrValidation)
		}
		if seen[c.UnitID] {
			return nil, fmt.Errorf("duplicate conversion for unit %d: %w", c.UnitID, shared.ErrValidation)
		}
		seen[c.UnitID] = true

		factor := c.Factor.Round(factorScale)
		if factor.Sign() <= 0 {
			return nil, fmt.Errorf("conversion factor for unit %d must be positive: %w", c.UnitID, shared.ErrValidation)
		}
		if c.UnitID == product.MainUnitID {
			if !factor.Equal(factorOne) {
				return nil, fmt.Errorf("main unit factor must be 1: %w", shared.ErrValidation)
			}
			mainSeen = true
		}
		normalized = append(normalized, Conversion{UnitID: c.UnitID, Factor: factor})
	}

	if !mainSeen {
		normalized = append(normalized, Conversion{UnitID: product.MainUnitID, Factor: factorOne})
	}
	return normalized, nil
}
