package units

import (
	"context"

	"golang.org/x/text/cases"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

var codeFolder = cases.Fold()

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Unit, error) {
	if id <= 0 {
		return Unit{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// GetByCode looks a unit up by its code, case-folded so "KG", "kg" and "Kg"
// all resolve to the same unit.
func (s *Service) GetByCode(ctx context.Context, code string) (Unit, error) {
	folded := codeFolder.String(code)
	if folded == "" {
		return Unit{}, shared.ErrRequiredField
	}
	return s.repo.GetByCode(ctx, folded)
}

func (s *Service) Create(ctx context.Context, unit Unit) (Unit, error) {
	if err := s.validate(unit); err != nil {
		return Unit{}, err
	}
	unit.Code = codeFolder.String(unit.Code)
	return s.repo.Create(ctx, unit)
}

func (s *Service) Update(ctx context.Context, id int64, unit Unit) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(unit); err != nil {
		return err
	}
	unit.Code = codeFolder.String(unit.Code)
	return s.repo.Update(ctx, id, unit)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	return s.repo.Delete(ctx, id)
}
