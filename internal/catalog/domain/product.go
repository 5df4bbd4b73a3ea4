package domain

import (
	"encoding/json"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// ProductState es el estado del agregado como valor inmutable: la única forma
// de obtener un estado nuevo es pasar el actual y un evento por Fold. Esto
// hace el replay trivialmente determinista.
type ProductState struct {
	ID           uuid.UUID `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	Stock        int       `json:"stock"`
	Reserved     int       `json:"reserved"`
	Discontinued bool      `json:"discontinued"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Available es el stock no comprometido por reservas.
func (s ProductState) Available() int {
	return s.Stock - s.Reserved
}

// Fold aplica un evento al estado y devuelve el estado resultante. El switch
// es exhaustivo sobre los tipos de evento de producto: un tipo desconocido es
// un error fatal de reconstrucción, jamás se ignora en silencio.
func Fold(s ProductState, evt sharedDomain.DomainEvent) (ProductState, error) {
	switch evt.Type {
	case ProductCreated:
		var p ProductCreatedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return s, err
		}
		s.ID = evt.AggregateID
		s.SKU = p.SKU
		s.Name = p.Name
		s.Description = p.Description
		s.PriceCents = p.PriceCents
		s.Currency = p.Currency
		s.Stock = p.Stock
		s.CreatedAt = evt.OccurredAt
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	case ProductDetailsUpdated:
		var p ProductDetailsUpdatedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return s, err
		}
		s.Name = p.Name
		s.Description = p.Description
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	case ProductPriceChanged:
		var p ProductPriceChangedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return s, err
		}
		s.PriceCents = p.NewPriceCents
		s.Currency = p.Currency
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	case ProductStockChanged:
		var p ProductStockChangedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return s, err
		}
		s.Stock = p.NewStock
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	case StockReserved:
		var p StockReservedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return s, err
		}
		s.Reserved = p.NewReserved
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	case StockReleased:
		var p StockReleasedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return s, err
		}
		s.Reserved = p.NewReserved
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	case ProductDiscontinued:
		s.Discontinued = true
		s.UpdatedAt = evt.OccurredAt
		return s, nil

	default:
		return s, &sharedDomain.UnknownEventTypeError{EventType: evt.Type}
	}
}

// ---------------- Agregado ----------------

// ProductAggregate combina la contabilidad común (versión + eventos sin
// confirmar) con el estado plegado. Los métodos de dominio validan primero
// las reglas de negocio (sin producir eventos si fallan) y emiten exactamente
// un evento por cambio lógico de estado.
type ProductAggregate struct {
	sharedDomain.AggregateRoot
	state ProductState
}

func NewProductAggregate(id uuid.UUID) *ProductAggregate {
	return &ProductAggregate{
		AggregateRoot: sharedDomain.NewAggregateRoot(id, AggregateType),
	}
}

// State devuelve una copia del estado actual.
func (a *ProductAggregate) State() ProductState {
	return a.state
}

// FromEvents reconstruye el agregado plegando el stream completo.
func FromEvents(id uuid.UUID, events []sharedDomain.DomainEvent) (*ProductAggregate, error) {
	agg := NewProductAggregate(id)
	for _, evt := range events {
		next, err := Fold(agg.state, evt)
		if err != nil {
			return nil, err
		}
		agg.state = next
		agg.Replay(evt)
	}
	return agg, nil
}

// FromSnapshot reconstruye desde un snapshot y pliega solo el resto del
// stream. Debe producir el mismo estado que el replay completo.
func FromSnapshot(id uuid.UUID, snap sharedDomain.Snapshot, events []sharedDomain.DomainEvent) (*ProductAggregate, error) {
	agg := NewProductAggregate(id)
	if err := json.Unmarshal(snap.State, &agg.state); err != nil {
		return nil, err
	}
	agg.Restore(snap.Version)

	for _, evt := range events {
		next, err := Fold(agg.state, evt)
		if err != nil {
			return nil, err
		}
		agg.state = next
		agg.Replay(evt)
	}
	return agg, nil
}

// emit construye el sobre, pliega el estado y registra el evento como
// pendiente de confirmar.
func (a *ProductAggregate) emit(eventType string, payload interface{}, meta sharedDomain.EventMetadata) error {
	evt, err := sharedDomain.NewDomainEvent(eventType, a.ID(), AggregateType, a.NextVersion(), payload, meta)
	if err != nil {
		return err
	}

	next, err := Fold(a.state, evt)
	if err != nil {
		return err
	}

	a.state = next
	a.Record(evt)
	return nil
}

// ---------------- Métodos de dominio ----------------

// Create inicializa el producto. Solo es válido sobre un agregado nuevo.
func (a *ProductAggregate) Create(sku, name, description string, priceCents int64, currency string, stock int, meta sharedDomain.EventMetadata) error {
	if a.Version() != 0 {
		return ruleViolation("product.unique", "product %s already exists", a.ID())
	}

	return a.emit(ProductCreated, ProductCreatedPayload{
		SKU:         sku,
		Name:        name,
		Description: description,
		PriceCents:  priceCents,
		Currency:    currency,
		Stock:       stock,
	}, meta)
}

// UpdateDetails cambia nombre y descripción. Si nada cambia no emite evento.
func (a *ProductAggregate) UpdateDetails(name, description string, meta sharedDomain.EventMetadata) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if a.state.Name == name && a.state.Description == description {
		return nil // no-op idempotente
	}

	return a.emit(ProductDetailsUpdated, ProductDetailsUpdatedPayload{
		Name:        name,
		Description: description,
	}, meta)
}

// ChangePrice fija un precio nuevo. Precio idéntico es un no-op.
func (a *ProductAggregate) ChangePrice(newPriceCents int64, meta sharedDomain.EventMetadata) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if newPriceCents <= 0 {
		return ruleViolation("price.positive", "price must be positive, got %d", newPriceCents)
	}
	if a.state.PriceCents == newPriceCents {
		return nil // no-op idempotente
	}

	return a.emit(ProductPriceChanged, ProductPriceChangedPayload{
		OldPriceCents: a.state.PriceCents,
		NewPriceCents: newPriceCents,
		Currency:      a.state.Currency,
	}, meta)
}

// AdjustStock suma o resta inventario. El stock nunca baja del comprometido.
func (a *ProductAggregate) AdjustStock(delta int, reason string, meta sharedDomain.EventMetadata) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if delta == 0 {
		return nil // no-op idempotente
	}

	newStock := a.state.Stock + delta
	if newStock < a.state.Reserved {
		return ruleViolation("stock.non_negative", "stock %d would fall below reserved %d", newStock, a.state.Reserved)
	}

	return a.emit(ProductStockChanged, ProductStockChangedPayload{
		Delta:    delta,
		NewStock: newStock,
		Reason:   reason,
	}, meta)
}

// ReserveStock compromete unidades para un pedido.
func (a *ProductAggregate) ReserveStock(quantity int, meta sharedDomain.EventMetadata) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if quantity <= 0 {
		return ruleViolation("reservation.positive", "reservation quantity must be positive, got %d", quantity)
	}
	if quantity > a.state.Available() {
		return &InsufficientStockError{Requested: quantity, Available: a.state.Available()}
	}

	return a.emit(StockReserved, StockReservedPayload{
		Quantity:    quantity,
		NewReserved: a.state.Reserved + quantity,
	}, meta)
}

// ReleaseStock libera unidades comprometidas.
func (a *ProductAggregate) ReleaseStock(quantity int, meta sharedDomain.EventMetadata) error {
	if err := a.requireExisting(); err != nil {
		return err
	}
	if quantity <= 0 {
		return ruleViolation("release.positive", "release quantity must be positive, got %d", quantity)
	}
	if quantity > a.state.Reserved {
		return ruleViolation("release.bounded", "cannot release %d, only %d reserved", quantity, a.state.Reserved)
	}

	return a.emit(StockReleased, StockReleasedPayload{
		Quantity:    quantity,
		NewReserved: a.state.Reserved - quantity,
	}, meta)
}

// Discontinue retira el producto del catálogo. Repetirlo es un no-op.
func (a *ProductAggregate) Discontinue(reason string, meta sharedDomain.EventMetadata) error {
	if err := a.requireExisting(); err != nil {
		return err
	}
	if a.state.Discontinued {
		return nil // no-op idempotente
	}

	return a.emit(ProductDiscontinued, ProductDiscontinuedPayload{Reason: reason}, meta)
}

func (a *ProductAggregate) requireExisting() error {
	if a.Version() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (a *ProductAggregate) requireActive() error {
	if err := a.requireExisting(); err != nil {
		return err
	}
	if a.state.Discontinued {
		return ruleViolation("product.active", "product %s is discontinued", a.ID())
	}
	return nil
}
