package materials

import (
	"errors"
	"time"
)

// Material is a raw material debited by batch conversions. ReorderLevel is
// the threshold used by the periodic low stock scan; zero disables it.
type Material struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	Price        float64   `json:"price"`
	SupplierID   int64     `json:"supplier_id"`
	ReorderLevel float64   `json:"reorder_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrSupplierMissing indicates the referenced supplier does not exist.
var ErrSupplierMissing = errors.New("materials: supplier does not exist")
