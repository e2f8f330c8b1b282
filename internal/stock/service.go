package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	mdshared "github.com/batchline-erp/batchline-erp/internal/masterdata/shared"
	"github.com/batchline-erp/batchline-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxLedger) error) error
	GetBalance(ctx context.Context, kind Kind, resourceID int64) (Balance, error)
	ListBalances(ctx context.Context, kind Kind) ([]Balance, error)
}

// FormulaEntry is one (material, quantity per unit) requirement of a product
// formula, in formula insertion order.
type FormulaEntry struct {
	MaterialID int64
	QtyPerUnit float64
}

// FormulaPort resolves product formulas. Entries fails with shared.ErrNotFound
// when the product has no formula rows.
type FormulaPort interface {
	Entries(ctx context.Context, productID int64) ([]FormulaEntry, error)
	Weight(ctx context.Context, productID int64) (float64, error)
}

// ProductPort resolves product attributes needed by conversions.
type ProductPort interface {
	Size(ctx context.Context, productID int64) (float64, error)
}

// PackagingPort lists the package materials composing a product.
type PackagingPort interface {
	ComposeList(ctx context.Context, productID int64) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims conversion reference keys and releases them when the
// conversion rolls back. A claim of an already processed key fails with
// shared.ErrIdempotencyConflict.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort counts conversion outcomes.
type MetricsPort interface {
	ObserveConversion(convType, result string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// PackagingPerRun consumes one unit of each package material per
	// conversion call instead of one per finished piece.
	PackagingPerRun bool
}

// Service is the conversion engine. It moves quantities between the material,
// packaging, batch and product ledgers according to formulas and package
// composition, all-or-nothing.
type Service struct {
	repo        RepositoryPort
	formulas    FormulaPort
	products    ProductPort
	packaging   PackagingPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, formulas FormulaPort, products ProductPort, packaging PackagingPort, audit AuditPort, idem IdempotencyPort, metrics MetricsPort, cfg ServiceConfig) *Service {
	return &Service{
		repo:        repo,
		formulas:    formulas,
		products:    products,
		packaging:   packaging,
		audit:       audit,
		idempotency: idem,
		metrics:     metrics,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateBatch converts raw materials into batch stock: every formula entry of
// the product is debited by qtyPerUnit*quantity and the batch ledger is
// credited by quantity. Validation of every requirement completes before the
// first debit; on any failure no ledger is touched.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (Batch, error) {
	if input.ProductID == 0 {
		return Batch{}, errors.New("stock: product required")
	}
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}

	entries, err := s.formulas.Entries(ctx, input.ProductID)
	if err != nil {
		return Batch{}, fmt.Errorf("stock: formula for product %d: %w", input.ProductID, err)
	}

	insertedKey, err := s.claimRef(ctx, "batch", input.Ref)
	if err != nil {
		return Batch{}, err
	}

	now := s.now().UTC()
	batch := Batch{
		ProductID:  input.ProductID,
		Quantity:   input.Quantity,
		BatchCode:  now.Format(BatchCodeLayout),
		RefID:      refOrNew(input.Ref),
		LastUpdate: now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxLedger) error {
		keys := make([]balanceKey, 0, len(entries)+1)
		for _, e := range entries {
			keys = append(keys, balanceKey{KindMaterial, e.MaterialID})
		}
		keys = append(keys, balanceKey{KindBatch, input.ProductID})

		view, err := lockAll(ctx, tx, keys)
		if err != nil {
			return err
		}

		// Validate phase: report the first deficient material, in formula
		// insertion order.
		for _, e := range entries {
			required := e.QtyPerUnit * input.Quantity
			if !view.sufficient(KindMaterial, e.MaterialID, required) {
				return &InsufficientStockError{
					Kind:       KindMaterial,
					ResourceID: e.MaterialID,
					Required:   required,
					Available:  view.available(KindMaterial, e.MaterialID),
				}
			}
		}

		// Commit phase.
		for _, e := range entries {
			if err := view.debit(KindMaterial, e.MaterialID, e.QtyPerUnit*input.Quantity); err != nil {
				return err
			}
		}
		view.credit(KindBatch, input.ProductID, input.Quantity)
		if err := view.flush(ctx); err != nil {
			return err
		}

		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		return nil
	})
	if err != nil {
		s.releaseRef(ctx, insertedKey, "batch", input.Ref)
		s.observe("batch", err)
		return Batch{}, err
	}

	s.observe("batch", nil)
	s.recordAudit(ctx, input.ActorID, "stock:create_batch", "batch", batch.BatchCode, map[string]any{
		"product_id": input.ProductID,
		"quantity":   input.Quantity,
	})
	return batch, nil
}

// CreateProductBatch converts batch stock plus packaging materials into
// finished product units. The needed batch quantity is
// productSize*pieces/formulaWeight; packaging draw-down follows the
// configured consumption mode. Every sufficiency check across every ledger
// completes before the first debit.
func (s *Service) CreateProductBatch(ctx context.Context, input CreateProductBatchInput) (ProductBatch, error) {
	if input.ProductID == 0 {
		return ProductBatch{}, errors.New("stock: product required")
	}
	if input.Pieces <= 0 {
		return ProductBatch{}, ErrInvalidQuantity
	}

	weight, err := s.formulas.Weight(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.observe("product_batch", ErrInvalidFormula)
			return ProductBatch{}, fmt.Errorf("%w: product %d has no formula", ErrInvalidFormula, input.ProductID)
		}
		return ProductBatch{}, err
	}
	if weight <= 0 {
		s.observe("product_batch", ErrInvalidFormula)
		return ProductBatch{}, fmt.Errorf("%w: product %d", ErrInvalidFormula, input.ProductID)
	}

	size, err := s.products.Size(ctx, input.ProductID)
	if err != nil {
		// The product store reports missing records with its own sentinel.
		if errors.Is(err, mdshared.ErrNotFound) {
			err = shared.ErrNotFound
		}
		return ProductBatch{}, fmt.Errorf("stock: product %d: %w", input.ProductID, err)
	}

	packIDs, err := s.packaging.ComposeList(ctx, input.ProductID)
	if err != nil {
		return ProductBatch{}, fmt.Errorf("stock: package compose for product %d: %w", input.ProductID, err)
	}

	batchQtyNeeded := size * float64(input.Pieces) / weight
	packQtyNeeded := float64(input.Pieces)
	if s.cfg.PackagingPerRun {
		packQtyNeeded = 1
	}

	insertedKey, err := s.claimRef(ctx, "product_batch", input.Ref)
	if err != nil {
		return ProductBatch{}, err
	}

	now := s.now().UTC()
	pb := ProductBatch{
		ProductID:  input.ProductID,
		Pieces:     input.Pieces,
		BatchCode:  now.Format(BatchCodeLayout),
		RefID:      refOrNew(input.Ref),
		LastUpdate: now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxLedger) error {
		keys := make([]balanceKey, 0, len(packIDs)+2)
		for _, id := range packIDs {
			keys = append(keys, balanceKey{KindPackaging, id})
		}
		keys = append(keys, balanceKey{KindBatch, input.ProductID})
		keys = append(keys, balanceKey{KindProduct, input.ProductID})

		view, err := lockAll(ctx, tx, keys)
		if err != nil {
			return err
		}

		// Validate phase: batch stock first, then each packaging material in
		// compose order. Nothing is debited until every check passes.
		if !view.sufficient(KindBatch, input.ProductID, batchQtyNeeded) {
			return &InsufficientStockError{
				Kind:       KindBatch,
				ResourceID: input.ProductID,
				Required:   batchQtyNeeded,
				Available:  view.available(KindBatch, input.ProductID),
			}
		}
		for _, id := range packIDs {
			if !view.sufficient(KindPackaging, id, packQtyNeeded) {
				return &InsufficientStockError{
					Kind:       KindPackaging,
					ResourceID: id,
					Required:   packQtyNeeded,
					Available:  view.available(KindPackaging, id),
				}
			}
		}

		// Commit phase.
		if err := view.debit(KindBatch, input.ProductID, batchQtyNeeded); err != nil {
			return err
		}
		for _, id := range packIDs {
			if err := view.debit(KindPackaging, id, packQtyNeeded); err != nil {
				return err
			}
		}
		view.credit(KindProduct, input.ProductID, float64(input.Pieces))
		if err := view.flush(ctx); err != nil {
			return err
		}

		id, err := tx.InsertProductBatch(ctx, pb)
		if err != nil {
			return err
		}
		pb.ID = id
		return nil
	})
	if err != nil {
		s.releaseRef(ctx, insertedKey, "product_batch", input.Ref)
		s.observe("product_batch", err)
		return ProductBatch{}, err
	}

	s.observe("product_batch", nil)
	s.recordAudit(ctx, input.ActorID, "stock:create_product_batch", "product_batch", pb.BatchCode, map[string]any{
		"product_id": input.ProductID,
		"pieces":     input.Pieces,
		"batch_used": batchQtyNeeded,
	})
	return pb, nil
}

// Credit posts an inbound receipt onto one ledger, creating the record when
// absent. Used for material purchases and packaging deliveries.
func (s *Service) Credit(ctx context.Context, kind Kind, resourceID int64, amount float64, actorID int64) (Balance, error) {
	if !kind.Valid() {
		return Balance{}, fmt.Errorf("stock: unknown ledger %q", kind)
	}
	if resourceID == 0 {
		return Balance{}, errors.New("stock: resource required")
	}
	if amount <= 0 {
		return Balance{}, ErrInvalidQuantity
	}
	var result Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxLedger) error {
		view, err := lockAll(ctx, tx, []balanceKey{{kind, resourceID}})
		if err != nil {
			return err
		}
		view.credit(kind, resourceID, amount)
		if err := view.flush(ctx); err != nil {
			return err
		}
		result = *view.balances[balanceKey{kind, resourceID}]
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	s.recordAudit(ctx, actorID, "stock:credit", string(kind), fmt.Sprintf("%d", resourceID), map[string]any{
		"amount": amount,
	})
	return result, nil
}

// GetBalance reads one ledger record. Absent records read as zero.
func (s *Service) GetBalance(ctx context.Context, kind Kind, resourceID int64) (Balance, error) {
	if !kind.Valid() {
		return Balance{}, fmt.Errorf("stock: unknown ledger %q", kind)
	}
	bal, err := s.repo.GetBalance(ctx, kind, resourceID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{Kind: kind, ResourceID: resourceID}, nil
	}
	return bal, err
}

// claimRef inserts the caller supplied reference as an idempotency key.
func (s *Service) claimRef(ctx context.Context, module, ref string) (bool, error) {
	if s.idempotency == nil || ref == "" {
		return false, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, fmt.Sprintf("stock:%s:%s", module, ref), module); err != nil {
		return false, err
	}
	return true, nil
}

// releaseRef rolls back a claimed reference after a failed conversion.
func (s *Service) releaseRef(ctx context.Context, inserted bool, module, ref string) {
	if !inserted || s.idempotency == nil {
		return
	}
	_ = s.idempotency.Delete(ctx, fmt.Sprintf("stock:%s:%s", module, ref))
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) observe(convType string, err error) {
	if s.metrics == nil {
		return
	}
	var insufficient *InsufficientStockError
	switch {
	case err == nil:
		s.metrics.ObserveConversion(convType, "ok")
	case errors.As(err, &insufficient):
		s.metrics.ObserveConversion(convType, "insufficient_stock")
	case errors.Is(err, ErrInvalidFormula):
		s.metrics.ObserveConversion(convType, "invalid_formula")
	case errors.Is(err, ErrConflict):
		s.metrics.ObserveConversion(convType, "conflict")
	default:
		s.metrics.ObserveConversion(convType, "error")
	}
}

func refOrNew(ref string) string {
	if ref != "" {
		return ref
	}
	return uuid.NewString()
}
