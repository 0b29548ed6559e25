package products

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

type Service struct {
	repo   Repository
	cache  *ConversionCache
	logger *slog.Logger
}

func NewService(repo Repository, cache *ConversionCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, product)
}

func (s *Service) Update(ctx context.Context, id int64, product Product) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(product); err != nil {
		return err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, product); err != nil {
		return err
	}
	// changing the main unit reshapes the conversion table
	if current.MainUnitID != product.MainUnitID {
		s.invalidate(ctx, id)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Conversions returns the product's conversion table, served from the cache
// when warm.
func (s *Service) Conversions(ctx context.Context, productID int64) ([]Conversion, error) {
	if productID <= 0 {
		return nil, shared.ErrInvalidID
	}
	if convs, ok := s.cache.Get(ctx, productID); ok {
		return convs, nil
	}
	if _, err := s.repo.Get(ctx, productID); err != nil {
		return nil, err
	}
	convs, err := s.repo.ListConversions(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, productID, convs); err != nil {
		s.logger.Warn("cache conversions", slog.Int64("product_id", productID), slog.Any("error", err))
	}
	return convs, nil
}

// SetConversions replaces the product's conversion table and drops the cached
// copy. The main unit keeps its factor-1 row regardless of input.
func (s *Service) SetConversions(ctx context.Context, productID int64, convs []Conversion) error {
	if productID <= 0 {
		return shared.ErrInvalidID
	}
	product, err := s.repo.Get(ctx, productID)
	if err != nil {
		return err
	}
	normalized, err := s.validateConversions(product, convs)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceConversions(ctx, productID, normalized); err != nil {
		return err
	}
	s.invalidate(ctx, productID)
	return nil
}

// WarmConversions pre-fills the cache for one product; used by the warmup job.
func (s *Service) WarmConversions(ctx context.Context, productID int64) error {
	convs, err := s.repo.ListConversions(ctx, productID)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, productID, convs)
}

// ActiveProductIDs lists ids of active products; used by the warmup job.
func (s *Service) ActiveProductIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListActiveIDs(ctx)
}

func (s *Service) invalidate(ctx context.Context, productID int64) {
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.Warn("invalidate conversions", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}
