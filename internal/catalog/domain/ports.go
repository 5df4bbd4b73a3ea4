package domain

import (
	"context"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// ProductView es el modelo de lectura denormalizado que mantienen las
// proyecciones. Version permite a los handlers idempotentes descartar
// eventos ya aplicados.
type ProductView struct {
	ID           uuid.UUID `json:"id" bson:"_id"`
	SKU          string    `json:"sku" bson:"sku"`
	Name         string    `json:"name" bson:"name"`
	Description  string    `json:"description" bson:"description"`
	PriceCents   int64     `json:"price_cents" bson:"price_cents"`
	Currency     string    `json:"currency" bson:"currency"`
	Stock        int       `json:"stock" bson:"stock"`
	Reserved     int       `json:"reserved" bson:"reserved"`
	Available    int       `json:"available" bson:"available"`
	Discontinued bool      `json:"discontinued" bson:"discontinued"`
	Version      int64     `json:"version" bson:"version"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// ViewFromState proyecta el estado del agregado a su modelo de lectura.
func ViewFromState(s ProductState, version int64) ProductView {
	return ProductView{
		ID:           s.ID,
		SKU:          s.SKU,
		Name:         s.Name,
		Description:  s.Description,
		PriceCents:   s.PriceCents,
		Currency:     s.Currency,
		Stock:        s.Stock,
		Reserved:     s.Reserved,
		Available:    s.Available(),
		Discontinued: s.Discontinued,
		Version:      version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// ProductReadRepository es el puerto del modelo de lectura. Upsert solo
// escribe si la versión entrante es mayor que la almacenada, de forma que
// aplicar el mismo evento dos veces deja la vista intacta.
type ProductReadRepository interface {
	Upsert(ctx context.Context, view ProductView) error
	GetByID(ctx context.Context, id uuid.UUID) (*ProductView, error)
	GetBySKU(ctx context.Context, sku string) (*ProductView, error)
	List(ctx context.Context, criteria sharedDomain.Criteria, pag sharedDomain.Pagination, sort sharedDomain.Sort) ([]ProductView, int64, error)
}

// ---------------- Claves de caché ----------------

func CacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("product:id:%s", id)
}

func CacheKeyBySKU(sku string) string {
	return fmt.Sprintf("product:sku:%s", sku)
}

// CacheKeyList identifica una página concreta de resultados.
func CacheKeyList(fingerprint string, pag sharedDomain.Pagination) string {
	return fmt.Sprintf("product:list:%s:%d:%d", fingerprint, pag.Limit, pag.Offset)
}

// CacheListPattern invalida todas las páginas cacheadas de listados.
const CacheListPattern = "product:list:*"
