package stock

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the stock ledgers. Each kind is an independent instance of
// the same key->balance ledger.
type Kind string

const (
	// KindMaterial tracks raw material balances, keyed by material id.
	KindMaterial Kind = "material"
	// KindPackaging tracks packaging material balances, keyed by package material id.
	KindPackaging Kind = "packaging"
	// KindBatch tracks mixed, not yet packaged batch quantity, keyed by product id.
	KindBatch Kind = "batch"
	// KindProduct tracks finished packaged units, keyed by product id.
	KindProduct Kind = "product"
)

// rank fixes the global lock acquisition order across ledgers.
func (k Kind) rank() int {
	switch k {
	case KindMaterial:
		return 0
	case KindPackaging:
		return 1
	case KindBatch:
		return 2
	case KindProduct:
		return 3
	default:
		return 4
	}
}

// Valid reports whether k names a known ledger.
func (k Kind) Valid() bool {
	return k.rank() < 4
}

// Balance is one ledger record. Qty is always >= 0; records are created
// lazily on first credit.
type Balance struct {
	Kind       Kind
	ResourceID int64
	Qty        float64
	UpdatedAt  time.Time
}

// Batch is the audit record written by a successful CreateBatch conversion.
type Batch struct {
	ID         int64
	ProductID  int64
	Quantity   float64
	BatchCode  string
	RefID      string
	LastUpdate time.Time
}

// ProductBatch is the audit record written by a successful CreateProductBatch
// conversion.
type ProductBatch struct {
	ID         int64
	ProductID  int64
	Pieces     int64
	BatchCode  string
	RefID      string
	LastUpdate time.Time
}

// CreateBatchInput describes a material -> batch conversion request.
type CreateBatchInput struct {
	ProductID int64
	Quantity  float64
	Ref       string
	ActorID   int64
}

// CreateProductBatchInput describes a batch + packaging -> product conversion
// request.
type CreateProductBatchInput struct {
	ProductID int64
	Pieces    int64
	Ref       string
	ActorID   int64
}

// InsufficientStockError reports the first resource whose balance cannot
// cover a conversion requirement. No ledger is mutated when it is returned.
type InsufficientStockError struct {
	Kind       Kind
	ResourceID int64
	Required   float64
	Available  float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient %s %d: required %g, available %g", e.Kind, e.ResourceID, e.Required, e.Available)
}

// ErrInvalidFormula indicates a missing formula or a non-positive total
// formula weight for a product-batch conversion.
var ErrInvalidFormula = errors.New("stock: formula weight must be positive")

// ErrInvalidQuantity indicates a non-positive conversion quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrConflict indicates ledger lock contention; the conversion may be retried.
var ErrConflict = errors.New("stock: ledger contention, retry")

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("stock: balance not found")

// BatchCodeLayout formats generated batch identifiers, sortable by creation time.
const BatchCodeLayout = "2006-01-02-15-04-05"
