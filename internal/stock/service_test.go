package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	mdshared "github.com/batchline-erp/batchline-erp/internal/masterdata/shared"
	"github.com/batchline-erp/batchline-erp/internal/shared"
	_ "github.com/batchline-erp/batchline-erp/testing"
)

// memoryRepo implements RepositoryPort with real per-key locking, so the
// overdraw test below exercises the same serialization the postgres
// repository provides with SELECT ... FOR UPDATE.
type memoryRepo struct {
	mu       sync.Mutex
	locks    map[balanceKey]*sync.Mutex
	balances map[balanceKey]Balance
	batches  []Batch
	pbatches []ProductBatch
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		locks:    make(map[balanceKey]*sync.Mutex),
		balances: make(map[balanceKey]Balance),
	}
}

func (r *memoryRepo) seed(kind Kind, id int64, qty float64) {
	r.balances[balanceKey{kind, id}] = Balance{Kind: kind, ResourceID: id, Qty: qty}
}

func (r *memoryRepo) lockFor(k balanceKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[k]; !ok {
		r.locks[k] = &sync.Mutex{}
	}
	return r.locks[k]
}

type memoryTx struct {
	repo     *memoryRepo
	held     []balanceKey
	staged   map[balanceKey]Balance
	batches  []Batch
	pbatches []ProductBatch
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxLedger) error) error {
	tx := &memoryTx{repo: r, staged: make(map[balanceKey]Balance)}
	err := fn(ctx, tx)
	if err == nil {
		tx.commit()
	}
	tx.release()
	return err
}

func (r *memoryRepo) GetBalance(ctx context.Context, kind Kind, resourceID int64) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bal, ok := r.balances[balanceKey{kind, resourceID}]; ok {
		return bal, nil
	}
	return Balance{Kind: kind, ResourceID: resourceID}, ErrBalanceNotFound
}

func (r *memoryRepo) ListBalances(ctx context.Context, kind Kind) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Balance
	for k, bal := range r.balances {
		if k.kind == kind {
			out = append(out, bal)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, kind Kind, resourceID int64) (Balance, error) {
	k := balanceKey{kind, resourceID}
	tx.repo.lockFor(k).Lock()
	tx.held = append(tx.held, k)
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if bal, ok := tx.repo.balances[k]; ok {
		return bal, nil
	}
	return Balance{Kind: kind, ResourceID: resourceID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.staged[balanceKey{balance.Kind, balance.ResourceID}] = balance
	return nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	tx.repo.mu.Lock()
	tx.repo.nextID++
	batch.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	tx.batches = append(tx.batches, batch)
	return batch.ID, nil
}

func (tx *memoryTx) InsertProductBatch(ctx context.Context, pb ProductBatch) (int64, error) {
	tx.repo.mu.Lock()
	tx.repo.nextID++
	pb.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	tx.pbatches = append(tx.pbatches, pb)
	return pb.ID, nil
}

func (tx *memoryTx) commit() {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for k, bal := range tx.staged {
		tx.repo.balances[k] = bal
	}
	tx.repo.batches = append(tx.repo.batches, tx.batches...)
	tx.repo.pbatches = append(tx.repo.pbatches, tx.pbatches...)
}

func (tx *memoryTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.repo.lockFor(tx.held[i]).Unlock()
	}
	tx.held = nil
}

type fakeFormulas struct {
	entries map[int64][]FormulaEntry
}

func (f *fakeFormulas) Entries(ctx context.Context, productID int64) ([]FormulaEntry, error) {
	entries, ok := f.entries[productID]
	if !ok || len(entries) == 0 {
		return nil, shared.ErrNotFound
	}
	return entries, nil
}

func (f *fakeFormulas) Weight(ctx context.Context, productID int64) (float64, error) {
	entries, ok := f.entries[productID]
	if !ok || len(entries) == 0 {
		return 0, shared.ErrNotFound
	}
	var sum float64
	for _, e := range entries {
		sum += e.QtyPerUnit
	}
	return sum, nil
}

type fakeProducts struct {
	sizes map[int64]float64
}

func (f *fakeProducts) Size(ctx context.Context, productID int64) (float64, error) {
	size, ok := f.sizes[productID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return size, nil
}

type fakePackaging struct {
	compose map[int64][]int64
}

func (f *fakePackaging) ComposeList(ctx context.Context, productID int64) ([]int64, error) {
	return f.compose[productID], nil
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]string)}
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func newTestService(repo *memoryRepo, formulas *fakeFormulas, products *fakeProducts, packaging *fakePackaging, cfg ServiceConfig) *Service {
	return NewService(repo, formulas, products, packaging, nil, nil, nil, cfg)
}

func TestCreateBatchMassConservation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindMaterial, 1, 100)
	repo.seed(KindMaterial, 2, 100)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 2}, {MaterialID: 2, QtyPerUnit: 3}},
	}}
	svc := newTestService(repo, formulas, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, Quantity: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), batch.ProductID)
	require.InDelta(t, 10.0, batch.Quantity, qtyEpsilon)
	require.Regexp(t, `^\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}$`, batch.BatchCode)
	require.NotEmpty(t, batch.RefID)

	matA, err := svc.GetBalance(ctx, KindMaterial, 1)
	require.NoError(t, err)
	require.InDelta(t, 80.0, matA.Qty, qtyEpsilon)

	matB, err := svc.GetBalance(ctx, KindMaterial, 2)
	require.NoError(t, err)
	require.InDelta(t, 70.0, matB.Qty, qtyEpsilon)

	batchBal, err := svc.GetBalance(ctx, KindBatch, 1)
	require.NoError(t, err)
	require.InDelta(t, 10.0, batchBal.Qty, qtyEpsilon)
}

func TestCreateBatchReportsFirstDeficientMaterial(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindMaterial, 1, 5)
	repo.seed(KindMaterial, 2, 100)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 2}, {MaterialID: 2, QtyPerUnit: 3}},
	}}
	svc := newTestService(repo, formulas, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{ProductID: 1, Quantity: 10})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, KindMaterial, insufficient.Kind)
	require.Equal(t, int64(1), insufficient.ResourceID)
	require.InDelta(t, 20.0, insufficient.Required, qtyEpsilon)
	require.InDelta(t, 5.0, insufficient.Available, qtyEpsilon)

	// No ledger mutation on the failure path.
	require.InDelta(t, 5.0, repo.balances[balanceKey{KindMaterial, 1}].Qty, qtyEpsilon)
	require.InDelta(t, 100.0, repo.balances[balanceKey{KindMaterial, 2}].Qty, qtyEpsilon)
	_, ok := repo.balances[balanceKey{KindBatch, 1}]
	require.False(t, ok)
	require.Empty(t, repo.batches)
}

func TestCreateBatchWithoutFormula(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeFormulas{entries: map[int64][]FormulaEntry{}}, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{ProductID: 9, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateBatchRejectsNonPositiveQuantity(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &fakeFormulas{}, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{ProductID: 1, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.CreateBatch(context.Background(), CreateBatchInput{ProductID: 1, Quantity: -3})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateProductBatchZeroWeightGuard(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindBatch, 2, 50)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		2: {{MaterialID: 1, QtyPerUnit: 0}},
	}}
	svc := newTestService(repo, formulas, &fakeProducts{sizes: map[int64]float64{2: 1}}, &fakePackaging{}, ServiceConfig{})

	_, err := svc.CreateProductBatch(context.Background(), CreateProductBatchInput{ProductID: 2, Pieces: 5})
	require.ErrorIs(t, err, ErrInvalidFormula)
	require.InDelta(t, 50.0, repo.balances[balanceKey{KindBatch, 2}].Qty, qtyEpsilon)
	require.Empty(t, repo.pbatches)
}

func TestCreateProductBatchMissingFormulaIsInvalid(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &fakeFormulas{entries: map[int64][]FormulaEntry{}}, &fakeProducts{sizes: map[int64]float64{2: 1}}, &fakePackaging{}, ServiceConfig{})

	_, err := svc.CreateProductBatch(context.Background(), CreateProductBatchInput{ProductID: 2, Pieces: 5})
	require.ErrorIs(t, err, ErrInvalidFormula)
}

func TestCreateProductBatchPerPiece(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindBatch, 1, 60)
	repo.seed(KindPackaging, 10, 150)
	repo.seed(KindPackaging, 11, 150)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 0.6}, {MaterialID: 2, QtyPerUnit: 0.4}},
	}}
	products := &fakeProducts{sizes: map[int64]float64{1: 0.5}}
	packaging := &fakePackaging{compose: map[int64][]int64{1: {10, 11}}}
	svc := newTestService(repo, formulas, products, packaging, ServiceConfig{})
	ctx := context.Background()

	pb, err := svc.CreateProductBatch(ctx, CreateProductBatchInput{ProductID: 1, Pieces: 100})
	require.NoError(t, err)
	require.Equal(t, int64(100), pb.Pieces)

	// batchQtyNeeded = size*pieces/weight = 0.5*100/1.0 = 50
	require.InDelta(t, 10.0, repo.balances[balanceKey{KindBatch, 1}].Qty, qtyEpsilon)
	require.InDelta(t, 50.0, repo.balances[balanceKey{KindPackaging, 10}].Qty, qtyEpsilon)
	require.InDelta(t, 50.0, repo.balances[balanceKey{KindPackaging, 11}].Qty, qtyEpsilon)
	require.InDelta(t, 100.0, repo.balances[balanceKey{KindProduct, 1}].Qty, qtyEpsilon)
	require.Len(t, repo.pbatches, 1)
}

func TestCreateProductBatchPerRun(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindBatch, 1, 60)
	repo.seed(KindPackaging, 10, 3)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 1}},
	}}
	products := &fakeProducts{sizes: map[int64]float64{1: 0.5}}
	packaging := &fakePackaging{compose: map[int64][]int64{1: {10}}}
	svc := newTestService(repo, formulas, products, packaging, ServiceConfig{PackagingPerRun: true})

	_, err := svc.CreateProductBatch(context.Background(), CreateProductBatchInput{ProductID: 1, Pieces: 100})
	require.NoError(t, err)
	require.InDelta(t, 2.0, repo.balances[balanceKey{KindPackaging, 10}].Qty, qtyEpsilon)
}

func TestCreateProductBatchPackagingShortfallLeavesBatchIntact(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindBatch, 1, 60)
	repo.seed(KindPackaging, 10, 20)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 1}},
	}}
	products := &fakeProducts{sizes: map[int64]float64{1: 0.5}}
	packaging := &fakePackaging{compose: map[int64][]int64{1: {10}}}
	svc := newTestService(repo, formulas, products, packaging, ServiceConfig{})

	_, err := svc.CreateProductBatch(context.Background(), CreateProductBatchInput{ProductID: 1, Pieces: 100})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, KindPackaging, insufficient.Kind)
	require.Equal(t, int64(10), insufficient.ResourceID)

	// Packaging validation happens before any batch debit.
	require.InDelta(t, 60.0, repo.balances[balanceKey{KindBatch, 1}].Qty, qtyEpsilon)
	require.InDelta(t, 20.0, repo.balances[balanceKey{KindPackaging, 10}].Qty, qtyEpsilon)
	_, ok := repo.balances[balanceKey{KindProduct, 1}]
	require.False(t, ok)
}

func TestCreateBatchReplaySameRefAppliedOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindMaterial, 1, 100)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 2}},
	}}
	idem := newFakeIdempotency()
	svc := NewService(repo, formulas, &fakeProducts{}, &fakePackaging{}, nil, idem, nil, ServiceConfig{})
	ctx := context.Background()

	ref := "1b6453892473a467d07372d45eb05abc2031647a"
	_, err := svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, Quantity: 10, Ref: ref})
	require.NoError(t, err)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, Quantity: 10, Ref: ref})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	// The replay is rejected before any ledger work: a single debit applied.
	require.InDelta(t, 80.0, repo.balances[balanceKey{KindMaterial, 1}].Qty, qtyEpsilon)
	require.InDelta(t, 10.0, repo.balances[balanceKey{KindBatch, 1}].Qty, qtyEpsilon)
	require.Len(t, repo.batches, 1)
}

func TestFailedConversionReleasesRef(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindMaterial, 1, 5)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 2}},
	}}
	idem := newFakeIdempotency()
	svc := NewService(repo, formulas, &fakeProducts{}, &fakePackaging{}, nil, idem, nil, ServiceConfig{})
	ctx := context.Background()

	ref := "9c1185a5c5e9fc54612808977ee8f548b2258d31"
	_, err := svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, Quantity: 10, Ref: ref})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Empty(t, idem.keys)

	// After restocking, the same reference goes through.
	_, err = svc.Credit(ctx, KindMaterial, 1, 100, 0)
	require.NoError(t, err)
	_, err = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, Quantity: 10, Ref: ref})
	require.NoError(t, err)
	require.Len(t, idem.keys, 1)
}

func TestCreateProductBatchMissingProduct(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindBatch, 2, 50)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		2: {{MaterialID: 1, QtyPerUnit: 1}},
	}}
	svc := NewService(repo, formulas, masterdataMissingProducts{}, &fakePackaging{}, nil, nil, nil, ServiceConfig{})

	_, err := svc.CreateProductBatch(context.Background(), CreateProductBatchInput{ProductID: 2, Pieces: 5})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.InDelta(t, 50.0, repo.balances[balanceKey{KindBatch, 2}].Qty, qtyEpsilon)
}

// masterdataMissingProducts answers with the masterdata sentinel, the way the
// products service does for a deleted record.
type masterdataMissingProducts struct{}

func (masterdataMissingProducts) Size(context.Context, int64) (float64, error) {
	return 0, mdshared.ErrNotFound
}

func TestConcurrentCreateBatchOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(KindMaterial, 1, 10)
	formulas := &fakeFormulas{entries: map[int64][]FormulaEntry{
		1: {{MaterialID: 1, QtyPerUnit: 8}},
	}}
	svc := newTestService(repo, formulas, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.CreateBatch(ctx, CreateBatchInput{ProductID: 1, Quantity: 1})
		}(i)
	}
	wg.Wait()

	var ok, failed int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		failed++
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
	require.InDelta(t, 2.0, repo.balances[balanceKey{KindMaterial, 1}].Qty, qtyEpsilon)
}

func TestCreditCreatesRecordLazily(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &fakeFormulas{}, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})
	ctx := context.Background()

	bal, err := svc.Credit(ctx, KindMaterial, 7, 12.5, 0)
	require.NoError(t, err)
	require.InDelta(t, 12.5, bal.Qty, qtyEpsilon)

	bal, err = svc.Credit(ctx, KindMaterial, 7, 2.5, 0)
	require.NoError(t, err)
	require.InDelta(t, 15.0, bal.Qty, qtyEpsilon)

	_, err = svc.Credit(ctx, KindMaterial, 7, 0, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Credit(ctx, "warehouse", 7, 1, 0)
	require.Error(t, err)
}

func TestGetBalanceAbsentReadsZero(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &fakeFormulas{}, &fakeProducts{}, &fakePackaging{}, ServiceConfig{})

	bal, err := svc.GetBalance(context.Background(), KindProduct, 404)
	require.NoError(t, err)
	require.Zero(t, bal.Qty)
	require.Equal(t, KindProduct, bal.Kind)
}
