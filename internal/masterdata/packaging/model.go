package packaging

import (
	"errors"
	"time"
)

// PackageMaterial is a packaging item debited by product-batch conversions.
type PackageMaterial struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	Price      float64   `json:"price"`
	SupplierID int64     `json:"supplier_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrSupplierMissing indicates the referenced supplier does not exist.
var ErrSupplierMissing = errors.New("packaging: supplier does not exist")
