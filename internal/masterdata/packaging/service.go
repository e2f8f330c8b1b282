package packaging

import (
	"context"

	"github.com/batchline-erp/batchline-erp/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]PackageMaterial, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (PackageMaterial, error) {
	if id <= 0 {
		return PackageMaterial{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, pm PackageMaterial) (PackageMaterial, error) {
	if err := s.validate(pm); err != nil {
		return PackageMaterial{}, err
	}
	return s.repo.Create(ctx, pm)
}

func (s *Service) Update(ctx context.Context, id int64, pm PackageMaterial) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(pm); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, pm)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	return s.repo.Delete(ctx, id)
}
