package formula

import "errors"

// Entry is one formula row: the quantity of a raw material needed per unit of
// batch for a product. At most one row exists per (product, material) pair.
type Entry struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	MaterialID int64   `json:"material_id"`
	Quantity   float64 `json:"quantity"`
}

// ComposeRow links a product to a package material consumed when packaging
// it. Presence only; the consumption quantity is a deployment setting.
type ComposeRow struct {
	ID                int64 `json:"id"`
	ProductID         int64 `json:"product_id"`
	PackageMaterialID int64 `json:"package_material_id"`
}

// ErrRowExists indicates a duplicate (product, material) formula row.
var ErrRowExists = errors.New("formula: row already exists for this product and material")

// ErrComposeExists indicates a duplicate (product, package material) compose row.
var ErrComposeExists = errors.New("formula: compose row already exists for this product and package material")
