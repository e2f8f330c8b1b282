package formula

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/batchline-erp/batchline-erp/internal/shared"
)

type memoryFormulaRepo struct {
	nextID  int64
	rows    []Entry
	compose []ComposeRow
}

func (m *memoryFormulaRepo) ListByProduct(_ context.Context, productID int64) ([]Entry, error) {
	var out []Entry
	for _, row := range m.rows {
		if row.ProductID == productID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryFormulaRepo) CreateRow(_ context.Context, entry Entry) (Entry, error) {
	for _, row := range m.rows {
		if row.ProductID == entry.ProductID && row.MaterialID == entry.MaterialID {
			return Entry{}, ErrRowExists
		}
	}
	m.nextID++
	entry.ID = m.nextID
	m.rows = append(m.rows, entry)
	return entry, nil
}

func (m *memoryFormulaRepo) UpdateRowQuantity(_ context.Context, productID, materialID int64, quantity float64) error {
	for i, row := range m.rows {
		if row.ProductID == productID && row.MaterialID == materialID {
			m.rows[i].Quantity = quantity
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memoryFormulaRepo) DeleteRow(_ context.Context, productID, materialID int64) error {
	for i, row := range m.rows {
		if row.ProductID == productID && row.MaterialID == materialID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memoryFormulaRepo) ComposeByProduct(_ context.Context, productID int64) ([]ComposeRow, error) {
	var out []ComposeRow
	for _, row := range m.compose {
		if row.ProductID == productID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryFormulaRepo) AddComposeRow(_ context.Context, row ComposeRow) (ComposeRow, error) {
	for _, existing := range m.compose {
		if existing.ProductID == row.ProductID && existing.PackageMaterialID == row.PackageMaterialID {
			return ComposeRow{}, ErrComposeExists
		}
	}
	m.nextID++
	row.ID = m.nextID
	m.compose = append(m.compose, row)
	return row, nil
}

func (m *memoryFormulaRepo) DeleteComposeRow(_ context.Context, productID, packageMaterialID int64) error {
	for i, row := range m.compose {
		if row.ProductID == productID && row.PackageMaterialID == packageMaterialID {
			m.compose = append(m.compose[:i], m.compose[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func TestGetFormulaOrderedAndDeduplicated(t *testing.T) {
	repo := &memoryFormulaRepo{}
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 7, Quantity: 2.5})
	require.NoError(t, err)
	_, err = svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 3, Quantity: 1.0})
	require.NoError(t, err)
	// Duplicate inserted behind the repo's back still collapses on read.
	repo.rows = append(repo.rows, Entry{ID: 99, ProductID: 1, MaterialID: 7, Quantity: 50})

	entries, err := svc.GetFormula(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(7), entries[0].MaterialID)
	require.Equal(t, 2.5, entries[0].Quantity)
	require.Equal(t, int64(3), entries[1].MaterialID)
}

func TestGetFormulaEmptyIsNotFound(t *testing.T) {
	svc := NewService(&memoryFormulaRepo{}, nil)

	_, err := svc.GetFormula(context.Background(), 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRowRejectsDuplicate(t *testing.T) {
	svc := NewService(&memoryFormulaRepo{}, nil)
	ctx := context.Background()

	_, err := svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 7, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 7, Quantity: 2})
	require.ErrorIs(t, err, ErrRowExists)
}

func TestWeightSumsEntries(t *testing.T) {
	svc := NewService(&memoryFormulaRepo{}, nil)
	ctx := context.Background()

	_, err := svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 1, Quantity: 0.25})
	require.NoError(t, err)
	_, err = svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 2, Quantity: 0.75})
	require.NoError(t, err)

	weight, err := svc.Weight(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 1.0, weight, 1e-9)
}

func TestWeightMissingFormula(t *testing.T) {
	svc := NewService(&memoryFormulaRepo{}, nil)

	_, err := svc.Weight(context.Background(), 9)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWeightCacheInvalidatedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memoryFormulaRepo{}
	svc := NewService(repo, NewWeightCache(client, time.Minute))
	ctx := context.Background()

	_, err := svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 1, Quantity: 2})
	require.NoError(t, err)

	weight, err := svc.Weight(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 2.0, weight, 1e-9)
	require.True(t, mr.Exists("formula:weight:1"))

	require.NoError(t, svc.UpdateRowQuantity(ctx, 1, 1, 5))
	require.False(t, mr.Exists("formula:weight:1"))

	weight, err = svc.Weight(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 5.0, weight, 1e-9)
}

func TestWeightServedFromCacheWithoutRepoHit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memoryFormulaRepo{}
	svc := NewService(repo, NewWeightCache(client, time.Minute))
	ctx := context.Background()

	_, err := svc.CreateRow(ctx, Entry{ProductID: 1, MaterialID: 1, Quantity: 3})
	require.NoError(t, err)
	_, err = svc.Weight(ctx, 1)
	require.NoError(t, err)

	// Mutate the store directly; the cached value must still be served.
	repo.rows[0].Quantity = 100
	weight, err := svc.Weight(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 3.0, weight, 1e-9)
}

func TestComposeListInsertionOrder(t *testing.T) {
	svc := NewService(&memoryFormulaRepo{}, nil)
	ctx := context.Background()

	_, err := svc.AddComposeRow(ctx, ComposeRow{ProductID: 1, PackageMaterialID: 5})
	require.NoError(t, err)
	_, err = svc.AddComposeRow(ctx, ComposeRow{ProductID: 1, PackageMaterialID: 2})
	require.NoError(t, err)
	_, err = svc.AddComposeRow(ctx, ComposeRow{ProductID: 1, PackageMaterialID: 2})
	require.ErrorIs(t, err, ErrComposeExists)

	ids, err := svc.ComposeList(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 2}, ids)
}
