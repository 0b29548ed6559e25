package units

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

type fakeRepo struct {
	byID   map[int64]Unit
	byCode map[string]Unit
	nextID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[int64]Unit), byCode: make(map[string]Unit)}
}

func (r *fakeRepo) List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error) {
	var units []Unit
	for _, u := range r.byID {
		units = append(units, u)
	}
	return units, len(units), nil
}

func (r *fakeRepo) Get(ctx context.Context, id int64) (Unit, error) {
	u, ok := r.byID[id]
	if !ok {
		return Unit{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) GetByCode(ctx context.Context, code string) (Unit, error) {
	u, ok := r.byCode[code]
	if !ok {
		return Unit{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) Create(ctx context.Context, unit Unit) (Unit, error) {
	if _, exists := r.byCode[unit.Code]; exists {
		return Unit{}, shared.ErrDuplicate
	}
	r.nextID++
	unit.ID = r.nextID
	r.byID[unit.ID] = unit
	r.byCode[unit.Code] = unit
	return unit, nil
}

func (r *fakeRepo) Update(ctx context.Context, id int64, unit Unit) error {
	if _, ok := r.byID[id]; !ok {
		return shared.ErrNotFound
	}
	unit.ID = id
	r.byID[id] = unit
	r.byCode[unit.Code] = unit
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id int64) error {
	u, ok := r.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byCode, u.Code)
	return nil
}

func TestCreateFoldsCode(t *testing.T) {
	svc := NewService(newFakeRepo())
	created, err := svc.Create(context.Background(), Unit{Code: "KG", Name: "Kilogram"})
	require.NoError(t, err)
	require.Equal(t, "kg", created.Code)
}

func TestGetByCodeIsCaseInsensitive(t *testing.T) {
	svc := NewService(newFakeRepo())
	created, err := svc.Create(context.Background(), Unit{Code: "Pc", Name: "Piece"})
	require.NoError(t, err)

	for _, code := range []string{"pc", "PC", "Pc"} {
		found, err := svc.GetByCode(context.Background(), code)
		require.NoError(t, err, code)
		require.Equal(t, created.ID, found.ID)
	}
}

func TestCreateRejectsBlankCode(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.Create(context.Background(), Unit{Code: "  ", Name: "Piece"})
	require.ErrorIs(t, err, shared.ErrRequiredField)
}

func TestCreateRejectsOverlongCode(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.Create(context.Background(), Unit{Code: "averyverylongunitcode", Name: "X"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetRejectsInvalidID(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrInvalidID)
}
