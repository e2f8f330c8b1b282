package materials

import (
	"errors"
	"strings"
)

func (s *Service) validate(m Material) error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("material name is required")
	}
	if strings.TrimSpace(m.Unit) == "" {
		return errors.New("material unit is required")
	}
	if m.Price < 0 {
		return errors.New("material price must be >= 0")
	}
	if m.SupplierID <= 0 {
		return errors.New("material supplier is required")
	}
	if m.ReorderLevel < 0 {
		return errors.New("material reorder level must be >= 0")
	}
	return nil
}
