package application

import (
	"context"
	"fmt"

	"github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/cqrs"
	"github.com/google/uuid"
)

// Tipos de comando del catálogo.
const (
	CmdCreateProduct = "catalog.create_product"
	CmdUpdateDetails = "catalog.update_product_details"
	CmdChangePrice   = "catalog.change_product_price"
	CmdAdjustStock   = "catalog.adjust_stock"
	CmdReserveStock  = "catalog.reserve_stock"
	CmdReleaseStock  = "catalog.release_stock"
	CmdDiscontinue   = "catalog.discontinue_product"
)

// ---------------- Comandos ----------------

type CreateProductCommand struct {
	ProductID   uuid.UUID
	SKU         string
	Name        string
	Description string
	PriceCents  int64
	Currency    string
	Stock       int
	Metadata    sharedDomain.EventMetadata
}

func (c CreateProductCommand) CommandType() string          { return CmdCreateProduct }
func (c CreateProductCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c CreateProductCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	if c.SKU == "" {
		return &sharedDomain.ValidationError{Field: "sku", Message: "required"}
	}
	if c.Name == "" {
		return &sharedDomain.ValidationError{Field: "name", Message: "required"}
	}
	if c.PriceCents <= 0 {
		return &sharedDomain.ValidationError{Field: "price_cents", Message: "must be positive"}
	}
	if len(c.Currency) != 3 {
		return &sharedDomain.ValidationError{Field: "currency", Message: "must be an ISO 4217 code"}
	}
	if c.Stock < 0 {
		return &sharedDomain.ValidationError{Field: "stock", Message: "must not be negative"}
	}
	return nil
}

type UpdateProductDetailsCommand struct {
	ProductID   uuid.UUID
	Name        string
	Description string
	Metadata    sharedDomain.EventMetadata
}

func (c UpdateProductDetailsCommand) CommandType() string          { return CmdUpdateDetails }
func (c UpdateProductDetailsCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c UpdateProductDetailsCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	if c.Name == "" {
		return &sharedDomain.ValidationError{Field: "name", Message: "required"}
	}
	return nil
}

type ChangeProductPriceCommand struct {
	ProductID     uuid.UUID
	NewPriceCents int64
	Metadata      sharedDomain.EventMetadata
}

func (c ChangeProductPriceCommand) CommandType() string          { return CmdChangePrice }
func (c ChangeProductPriceCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c ChangeProductPriceCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	if c.NewPriceCents <= 0 {
		return &sharedDomain.ValidationError{Field: "new_price_cents", Message: "must be positive"}
	}
	return nil
}

type AdjustStockCommand struct {
	ProductID uuid.UUID
	Delta     int
	Reason    string
	Metadata  sharedDomain.EventMetadata
}

func (c AdjustStockCommand) CommandType() string          { return CmdAdjustStock }
func (c AdjustStockCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c AdjustStockCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	if c.Reason == "" {
		return &sharedDomain.ValidationError{Field: "reason", Message: "required"}
	}
	return nil
}

type ReserveStockCommand struct {
	ProductID uuid.UUID
	Quantity  int
	Metadata  sharedDomain.EventMetadata
}

func (c ReserveStockCommand) CommandType() string          { return CmdReserveStock }
func (c ReserveStockCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c ReserveStockCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	if c.Quantity <= 0 {
		return &sharedDomain.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	return nil
}

type ReleaseStockCommand struct {
	ProductID uuid.UUID
	Quantity  int
	Metadata  sharedDomain.EventMetadata
}

func (c ReleaseStockCommand) CommandType() string          { return CmdReleaseStock }
func (c ReleaseStockCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c ReleaseStockCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	if c.Quantity <= 0 {
		return &sharedDomain.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	return nil
}

type DiscontinueProductCommand struct {
	ProductID uuid.UUID
	Reason    string
	Metadata  sharedDomain.EventMetadata
}

func (c DiscontinueProductCommand) CommandType() string          { return CmdDiscontinue }
func (c DiscontinueProductCommand) TargetAggregateID() uuid.UUID { return c.ProductID }

func (c DiscontinueProductCommand) Validate() error {
	if c.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	return nil
}

// ---------------- Handlers ----------------

// ProductCommandHandlers agrupa el ciclo load→invoke→save de cada comando.
// Cada invocación carga una instancia fresca del agregado: ante un conflicto
// de concurrencia el bus repite el ciclo completo y los eventos de la
// instancia descartada nunca se persisten.
type ProductCommandHandlers struct {
	repo *ProductRepository
}

func NewProductCommandHandlers(repo *ProductRepository) *ProductCommandHandlers {
	return &ProductCommandHandlers{repo: repo}
}

// RegisterProductHandlers cablea todos los comandos del catálogo en el bus.
func RegisterProductHandlers(bus *cqrs.CommandBus, h *ProductCommandHandlers) error {
	registrations := map[string]cqrs.CommandHandler{
		CmdCreateProduct: commandHandlerFunc(h.handleCreate),
		CmdUpdateDetails: commandHandlerFunc(h.handleUpdateDetails),
		CmdChangePrice:   commandHandlerFunc(h.handleChangePrice),
		CmdAdjustStock:   commandHandlerFunc(h.handleAdjustStock),
		CmdReserveStock:  commandHandlerFunc(h.handleReserveStock),
		CmdReleaseStock:  commandHandlerFunc(h.handleReleaseStock),
		CmdDiscontinue:   commandHandlerFunc(h.handleDiscontinue),
	}
	for commandType, handler := range registrations {
		if err := bus.Register(commandType, handler); err != nil {
			return err
		}
	}
	return nil
}

// commandHandlerFunc adapta una función al contrato CommandHandler.
type commandHandlerFunc func(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error)

func (f commandHandlerFunc) Handle(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	return f(ctx, cmd)
}

func (h *ProductCommandHandlers) handleCreate(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(CreateProductCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdCreateProduct)
	}

	agg := domain.NewProductAggregate(c.ProductID)
	if err := agg.Create(c.SKU, c.Name, c.Description, c.PriceCents, c.Currency, c.Stock, c.Metadata); err != nil {
		return cqrs.CommandResult{}, err
	}
	return h.save(ctx, agg)
}

func (h *ProductCommandHandlers) handleUpdateDetails(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(UpdateProductDetailsCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdUpdateDetails)
	}
	return h.mutate(ctx, c.ProductID, func(agg *domain.ProductAggregate) error {
		return agg.UpdateDetails(c.Name, c.Description, c.Metadata)
	})
}

func (h *ProductCommandHandlers) handleChangePrice(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(ChangeProductPriceCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdChangePrice)
	}
	return h.mutate(ctx, c.ProductID, func(agg *domain.ProductAggregate) error {
		return agg.ChangePrice(c.NewPriceCents, c.Metadata)
	})
}

func (h *ProductCommandHandlers) handleAdjustStock(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(AdjustStockCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdAdjustStock)
	}
	return h.mutate(ctx, c.ProductID, func(agg *domain.ProductAggregate) error {
		return agg.AdjustStock(c.Delta, c.Reason, c.Metadata)
	})
}

func (h *ProductCommandHandlers) handleReserveStock(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(ReserveStockCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdReserveStock)
	}
	return h.mutate(ctx, c.ProductID, func(agg *domain.ProductAggregate) error {
		return agg.ReserveStock(c.Quantity, c.Metadata)
	})
}

func (h *ProductCommandHandlers) handleReleaseStock(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(ReleaseStockCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdReleaseStock)
	}
	return h.mutate(ctx, c.ProductID, func(agg *domain.ProductAggregate) error {
		return agg.ReleaseStock(c.Quantity, c.Metadata)
	})
}

func (h *ProductCommandHandlers) handleDiscontinue(ctx context.Context, cmd cqrs.Command) (cqrs.CommandResult, error) {
	c, ok := cmd.(DiscontinueProductCommand)
	if !ok {
		return cqrs.CommandResult{}, fmt.Errorf("unexpected command %T for type %s", cmd, CmdDiscontinue)
	}
	return h.mutate(ctx, c.ProductID, func(agg *domain.ProductAggregate) error {
		return agg.Discontinue(c.Reason, c.Metadata)
	})
}

// mutate es el ciclo compartido de los comandos sobre agregados existentes.
func (h *ProductCommandHandlers) mutate(ctx context.Context, id uuid.UUID, fn func(*domain.ProductAggregate) error) (cqrs.CommandResult, error) {
	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		return cqrs.CommandResult{}, err
	}
	if err := fn(agg); err != nil {
		return cqrs.CommandResult{}, err
	}
	return h.save(ctx, agg)
}

func (h *ProductCommandHandlers) save(ctx context.Context, agg *domain.ProductAggregate) (cqrs.CommandResult, error) {
	events := append([]sharedDomain.DomainEvent(nil), agg.UncommittedEvents()...)
	if err := h.repo.Save(ctx, agg); err != nil {
		return cqrs.CommandResult{}, err
	}
	return cqrs.CommandResult{
		AggregateID: agg.ID(),
		Version:     agg.Version(),
		Events:      events,
	}, nil
}
