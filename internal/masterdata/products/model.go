package products

import (
	"errors"
	"time"
)

// Product is a finished good. Size is the batch mass packed into one piece,
// in the same unit as formula quantities.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Size      float64   `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrInvalidSize indicates a non-positive product size.
var ErrInvalidSize = errors.New("products: size must be > 0")
