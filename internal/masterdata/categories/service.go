package categories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/masterdata/shared"
)

// maxSubtreeDepth bounds the breadth-first walk; a deeper tree indicates
// corrupt parent pointers rather than a legitimate hierarchy.
const maxSubtreeDepth = 32

// ErrTreeTooDeep is returned when a subtree walk exceeds maxSubtreeDepth levels.
var ErrTreeTooDeep = errors.New("categories: tree exceeds maximum depth")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Category, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Category, error) {
	if id <= 0 {
		return Category{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

// Subtree returns the category and all of its descendants, breadth first.
// A visited set guards against parent-pointer cycles; the depth bound guards
// against degenerate chains.
func (s *Service) Subtree(ctx context.Context, id int64) ([]Category, error) {
	if id <= 0 {
		return nil, shared.ErrInvalidID
	}
	root, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := []Category{root}
	visited := map[int64]bool{root.ID: true}
	frontier := []int64{root.ID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxSubtreeDepth {
			return nil, ErrTreeTooDeep
		}
		var next []int64
		for _, parentID := range frontier {
			children, err := s.repo.ListChildren(ctx, parentID)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if visited[child.ID] {
					continue
				}
				visited[child.ID] = true
				result = append(result, child)
				next = append(next, child.ID)
			}
		}
		frontier = next
	}
	return result, nil
}

func (s *Service) Create(ctx context.Context, category Category) (Category, error) {
	if err := s.validate(ctx, 0, category); err != nil {
		return Category{}, err
	}
	return s.repo.Create(ctx, category)
}

func (s *Service) Update(ctx context.Context, id int64, category Category) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(ctx, id, category); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, category)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) validate(ctx context.Context, id int64, c Category) error {
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("category code: %w", shared.ErrRequiredField)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("category name: %w", shared.ErrRequiredField)
	}
	if c.ParentID == nil {
		return nil
	}
	if *c.ParentID == id {
		return fmt.Errorf("category cannot be its own parent: %w", shared.ErrValidation)
	}
	// reparenting under a descendant would form a cycle
	if id > 0 {
		subtree, err := s.Subtree(ctx, id)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		for _, node := range subtree {
			if node.ID == *c.ParentID {
				return fmt.Errorf("new parent is a descendant: %w", shared.ErrValidation)
			}
		}
	}
	if _, err := s.repo.Get(ctx, *c.ParentID); err != nil {
		return fmt.Errorf("parent category: %w", err)
	}
	return nil
}
