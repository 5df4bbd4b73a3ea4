package domain

import (
	"fmt"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
)

// ---------- Errores de dominio ----------

var (
	// ErrProductNotFound envuelve el sentinel compartido para que los buses
	// lo clasifiquen como NOT_FOUND.
	ErrProductNotFound = fmt.Errorf("product %w", sharedDomain.ErrNotFound)
)

// InsufficientStockError se produce al reservar más stock del disponible.
// No genera ningún evento.
type InsufficientStockError struct {
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}

// Unwrap lo expone como violación de regla de negocio ante errors.As.
func (e *InsufficientStockError) Unwrap() error {
	return &sharedDomain.BusinessRuleError{Rule: "stock.sufficient", Message: e.Error()}
}

func ruleViolation(rule, format string, args ...interface{}) error {
	return &sharedDomain.BusinessRuleError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}
