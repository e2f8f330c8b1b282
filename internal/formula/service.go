package formula

import (
	"context"
	"errors"
	"fmt"

	"github.com/batchline-erp/batchline-erp/internal/shared"
)

// Service exposes the formula registry: ordered deduplicated formula entries
// per product, the derived total weight, and row maintenance.
type Service struct {
	repo  Repository
	cache *WeightCache
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache *WeightCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// GetFormula returns the product's formula entries in insertion order, one
// per material. Fails with shared.ErrNotFound when the product has no rows.
func (s *Service) GetFormula(ctx context.Context, productID int64) ([]Entry, error) {
	if productID <= 0 {
		return nil, errors.New("formula: invalid product id")
	}
	rows, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("formula: product %d: %w", productID, shared.ErrNotFound)
	}
	// The unique (product, material) index makes duplicates impossible in
	// postgres; dedup here keeps the derived weight stable for any backing
	// store, first row wins.
	seen := make(map[int64]bool, len(rows))
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if seen[row.MaterialID] {
			continue
		}
		seen[row.MaterialID] = true
		entries = append(entries, row)
	}
	return entries, nil
}

// Weight returns the total formula weight per unit of batch: the sum of
// quantity over all entries. Cached; fails with shared.ErrNotFound when the
// product has no formula.
func (s *Service) Weight(ctx context.Context, productID int64) (float64, error) {
	if productID <= 0 {
		return 0, errors.New("formula: invalid product id")
	}
	return s.cache.Fetch(ctx, productID, func(ctx context.Context) (float64, error) {
		entries, err := s.GetFormula(ctx, productID)
		if err != nil {
			return 0, err
		}
		var sum float64
		for _, e := range entries {
			sum += e.Quantity
		}
		return sum, nil
	})
}

// CreateRow adds one formula row. Fails with ErrRowExists when the
// (product, material) pair already has one.
func (s *Service) CreateRow(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ProductID <= 0 || entry.MaterialID <= 0 {
		return Entry{}, errors.New("formula: product and material required")
	}
	if entry.Quantity < 0 {
		return Entry{}, errors.New("formula: quantity must be >= 0")
	}
	created, err := s.repo.CreateRow(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	if err := s.cache.Invalidate(ctx, entry.ProductID); err != nil {
		return Entry{}, err
	}
	return created, nil
}

// UpdateRowQuantity changes the quantity of one formula row.
func (s *Service) UpdateRowQuantity(ctx context.Context, productID, materialID int64, quantity float64) error {
	if quantity < 0 {
		return errors.New("formula: quantity must be >= 0")
	}
	if err := s.repo.UpdateRowQuantity(ctx, productID, materialID, quantity); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, productID)
}

// DeleteRow removes one formula row.
func (s *Service) DeleteRow(ctx context.Context, productID, materialID int64) error {
	if err := s.repo.DeleteRow(ctx, productID, materialID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, productID)
}

// ComposeList returns the package material ids composing a product, in
// insertion order. Empty when the product has no compose rows.
func (s *Service) ComposeList(ctx context.Context, productID int64) ([]int64, error) {
	rows, err := s.repo.ComposeByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.PackageMaterialID)
	}
	return ids, nil
}

// AddComposeRow links a package material to a product.
func (s *Service) AddComposeRow(ctx context.Context, row ComposeRow) (ComposeRow, error) {
	if row.ProductID <= 0 || row.PackageMaterialID <= 0 {
		return ComposeRow{}, errors.New("formula: product and package material required")
	}
	return s.repo.AddComposeRow(ctx, row)
}

// DeleteComposeRow unlinks a package material from a product.
func (s *Service) DeleteComposeRow(ctx context.Context, productID, packageMaterialID int64) error {
	return s.repo.DeleteComposeRow(ctx, productID, packageMaterialID)
}
