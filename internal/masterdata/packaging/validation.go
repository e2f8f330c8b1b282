package packaging

import (
	"errors"
	"strings"
)

func (s *Service) validate(pm PackageMaterial) error {
	if strings.TrimSpace(pm.Name) == "" {
		return errors.New("package material name is required")
	}
	if strings.TrimSpace(pm.Unit) == "" {
		return errors.New("package material unit is required")
	}
	if pm.Price < 0 {
		return errors.New("package material price must be >= 0")
	}
	if pm.SupplierID <= 0 {
		return errors.New("package material supplier is required")
	}
	return nil
}
