package domain

// Tipos de evento del agregado Product. Son contratos de integración: el
// payload viaja plano dentro del sobre DomainEvent.
const (
	ProductCreated        = "product.created"
	ProductDetailsUpdated = "product.details_updated"
	ProductPriceChanged   = "product.price_changed"
	ProductStockChanged   = "product.stock_changed"
	StockReserved         = "product.stock_reserved"
	StockReleased         = "product.stock_released"
	ProductDiscontinued   = "product.discontinued"
)

// AggregateType identifica los streams de producto en el event store.
const AggregateType = "product"

// ProductTopic es la routing key por defecto de los eventos de producto.
const ProductTopic = "catalog.product"

// NotifyTopic es el canal de notificaciones realtime para suscriptores.
const NotifyTopic = "catalog.product.updates"

// ---------------- Payloads ----------------

type ProductCreatedPayload struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	Stock       int    `json:"stock"`
}

type ProductDetailsUpdatedPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ProductPriceChangedPayload struct {
	OldPriceCents int64  `json:"old_price_cents"`
	NewPriceCents int64  `json:"new_price_cents"`
	Currency      string `json:"currency"`
}

type ProductStockChangedPayload struct {
	Delta    int    `json:"delta"`
	NewStock int    `json:"new_stock"`
	Reason   string `json:"reason,omitempty"`
}

type StockReservedPayload struct {
	Quantity    int `json:"quantity"`
	NewReserved int `json:"new_reserved"`
}

type StockReleasedPayload struct {
	Quantity    int `json:"quantity"`
	NewReserved int `json:"new_reserved"`
}

type ProductDiscontinuedPayload struct {
	Reason string `json:"reason,omitempty"`
}
