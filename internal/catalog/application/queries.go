package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/cache"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/cqrs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tipos de query del catálogo.
const (
	QryGetProductByID  = "catalog.get_product_by_id"
	QryGetProductBySKU = "catalog.get_product_by_sku"
	QryListProducts    = "catalog.list_products"
	QrySearchProducts  = "catalog.search_products"
)

// ---------------- Queries ----------------

type GetProductByIDQuery struct {
	ProductID uuid.UUID
}

func (q GetProductByIDQuery) QueryType() string { return QryGetProductByID }
func (q GetProductByIDQuery) CacheKey() string  { return domain.CacheKeyByID(q.ProductID) }

func (q GetProductByIDQuery) Validate() error {
	if q.ProductID == uuid.Nil {
		return &sharedDomain.ValidationError{Field: "product_id", Message: "required"}
	}
	return nil
}

type GetProductBySKUQuery struct {
	SKU string
}

func (q GetProductBySKUQuery) QueryType() string { return QryGetProductBySKU }
func (q GetProductBySKUQuery) CacheKey() string  { return domain.CacheKeyBySKU(q.SKU) }

func (q GetProductBySKUQuery) Validate() error {
	if q.SKU == "" {
		return &sharedDomain.ValidationError{Field: "sku", Message: "required"}
	}
	return nil
}

// ListProductsQuery pagina el catálogo con filtros opcionales. Los parámetros
// se normalizan en Validate para que CacheKey sea determinista.
type ListProductsQuery struct {
	NamePattern   string
	MinPriceCents int64
	MaxPriceCents int64
	OnlyActive    bool
	Limit         int
	Offset        int
	SortField     string
	SortDesc      bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (q ListProductsQuery) QueryType() string { return QryListProducts }

func (q ListProductsQuery) CacheKey() string {
	fingerprint := fmt.Sprintf("%s:%d:%d:%t:%s:%t",
		q.NamePattern, q.MinPriceCents, q.MaxPriceCents, q.OnlyActive, q.SortField, q.SortDesc)
	return domain.CacheKeyList(fingerprint, sharedDomain.Pagination{Limit: q.Limit, Offset: q.Offset})
}

func (q ListProductsQuery) Validate() error {
	if q.Limit < 0 {
		return &sharedDomain.ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if q.Limit > maxPageSize {
		return &sharedDomain.ValidationError{Field: "limit", Message: fmt.Sprintf("must not exceed %d", maxPageSize)}
	}
	if q.Offset < 0 {
		return &sharedDomain.ValidationError{Field: "offset", Message: "must not be negative"}
	}
	if q.MinPriceCents < 0 || q.MaxPriceCents < 0 {
		return &sharedDomain.ValidationError{Field: "price_range", Message: "must not be negative"}
	}
	return nil
}

func (q ListProductsQuery) criteria() sharedDomain.Criteria {
	var criterias []sharedDomain.Criteria
	if q.NamePattern != "" {
		criterias = append(criterias, domain.NameLikeCriteria{Pattern: q.NamePattern})
	}
	if q.MinPriceCents > 0 || q.MaxPriceCents > 0 {
		criterias = append(criterias, domain.PriceRangeCriteria{MinCents: q.MinPriceCents, MaxCents: q.MaxPriceCents})
	}
	if q.OnlyActive {
		criterias = append(criterias, domain.DiscontinuedCriteria{Discontinued: false})
	}
	return sharedDomain.And(criterias...)
}

// SearchProductsQuery busca productos cuyo nombre contenga el término libre.
// El término se normaliza (trim + minúsculas) para que la clave de caché sea
// estable entre variantes equivalentes.
type SearchProductsQuery struct {
	Term   string
	Limit  int
	Offset int
}

func (q SearchProductsQuery) QueryType() string { return QrySearchProducts }

func (q SearchProductsQuery) normalizedTerm() string {
	return strings.ToLower(strings.TrimSpace(q.Term))
}

func (q SearchProductsQuery) CacheKey() string {
	fingerprint := fmt.Sprintf("search:%s", q.normalizedTerm())
	return domain.CacheKeyList(fingerprint, sharedDomain.Pagination{Limit: q.Limit, Offset: q.Offset})
}

func (q SearchProductsQuery) Validate() error {
	if q.normalizedTerm() == "" {
		return &sharedDomain.ValidationError{Field: "term", Message: "required"}
	}
	if q.Limit < 0 {
		return &sharedDomain.ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if q.Limit > maxPageSize {
		return &sharedDomain.ValidationError{Field: "limit", Message: fmt.Sprintf("must not exceed %d", maxPageSize)}
	}
	if q.Offset < 0 {
		return &sharedDomain.ValidationError{Field: "offset", Message: "must not be negative"}
	}
	return nil
}

// ProductPage es el sobre de paginación de los listados.
type ProductPage struct {
	Items      []domain.ProductView `json:"items"`
	TotalCount int64                `json:"total_count"`
	Offset     int                  `json:"offset"`
	Limit      int                  `json:"limit"`
	HasMore    bool                 `json:"has_more"`
}

// ---------------- Handlers ----------------

// ProductQueryHandlers resuelve las queries del catálogo con cache-aside:
// lee de caché con destino tipado; en miss consulta el read model y puebla
// la caché en background con TTL acotado.
type ProductQueryHandlers struct {
	readRepo domain.ProductReadRepository
	cache    cache.Cache
	ttlSecs  int
	log      *zap.Logger
}

func NewProductQueryHandlers(readRepo domain.ProductReadRepository, c cache.Cache, ttlSecs int, log *zap.Logger) *ProductQueryHandlers {
	return &ProductQueryHandlers{readRepo: readRepo, cache: c, ttlSecs: ttlSecs, log: log}
}

// RegisterProductQueryHandlers cablea las queries del catálogo en el bus.
func RegisterProductQueryHandlers(bus *cqrs.QueryBus, h *ProductQueryHandlers) error {
	registrations := map[string]cqrs.QueryHandler{
		QryGetProductByID:  queryHandlerFunc(h.handleGetByID),
		QryGetProductBySKU: queryHandlerFunc(h.handleGetBySKU),
		QryListProducts:    queryHandlerFunc(h.handleList),
		QrySearchProducts:  queryHandlerFunc(h.handleSearch),
	}
	for queryType, handler := range registrations {
		if err := bus.Register(queryType, handler); err != nil {
			return err
		}
	}
	return nil
}

type queryHandlerFunc func(ctx context.Context, q cqrs.Query) (interface{}, cqrs.ResultSource, error)

func (f queryHandlerFunc) Handle(ctx context.Context, q cqrs.Query) (interface{}, cqrs.ResultSource, error) {
	return f(ctx, q)
}

func (h *ProductQueryHandlers) handleGetByID(ctx context.Context, q cqrs.Query) (interface{}, cqrs.ResultSource, error) {
	qry, ok := q.(GetProductByIDQuery)
	if !ok {
		return nil, "", fmt.Errorf("unexpected query %T for type %s", q, QryGetProductByID)
	}

	var cached domain.ProductView
	if hit := h.cacheGet(ctx, qry.CacheKey(), &cached); hit {
		return cached, cqrs.SourceCache, nil
	}

	view, err := h.readRepo.GetByID(ctx, qry.ProductID)
	if err != nil {
		return nil, "", err
	}

	cache.AsyncCacheSet(ctx, h.cache, qry.CacheKey(), view, h.ttlSecs, h.log)
	return *view, cqrs.SourceDatabase, nil
}

func (h *ProductQueryHandlers) handleGetBySKU(ctx context.Context, q cqrs.Query) (interface{}, cqrs.ResultSource, error) {
	qry, ok := q.(GetProductBySKUQuery)
	if !ok {
		return nil, "", fmt.Errorf("unexpected query %T for type %s", q, QryGetProductBySKU)
	}

	var cached domain.ProductView
	if hit := h.cacheGet(ctx, qry.CacheKey(), &cached); hit {
		return cached, cqrs.SourceCache, nil
	}

	view, err := h.readRepo.GetBySKU(ctx, qry.SKU)
	if err != nil {
		return nil, "", err
	}

	cache.AsyncCacheSet(ctx, h.cache, qry.CacheKey(), view, h.ttlSecs, h.log)
	return *view, cqrs.SourceDatabase, nil
}

func (h *ProductQueryHandlers) handleList(ctx context.Context, q cqrs.Query) (interface{}, cqrs.ResultSource, error) {
	qry, ok := q.(ListProductsQuery)
	if !ok {
		return nil, "", fmt.Errorf("unexpected query %T for type %s", q, QryListProducts)
	}
	if qry.Limit == 0 {
		qry.Limit = defaultPageSize
	}
	if qry.SortField == "" {
		qry.SortField = "created_at"
	}

	var cached ProductPage
	if hit := h.cacheGet(ctx, qry.CacheKey(), &cached); hit {
		return cached, cqrs.SourceCache, nil
	}

	pag := sharedDomain.Pagination{Limit: qry.Limit, Offset: qry.Offset}
	sort := sharedDomain.Sort{Field: qry.SortField, Desc: qry.SortDesc}

	items, total, err := h.readRepo.List(ctx, qry.criteria(), pag, sort)
	if err != nil {
		return nil, "", err
	}

	page := ProductPage{
		Items:      items,
		TotalCount: total,
		Offset:     qry.Offset,
		Limit:      qry.Limit,
		HasMore:    int64(qry.Offset+len(items)) < total,
	}

	cache.AsyncCacheSet(ctx, h.cache, qry.CacheKey(), page, h.ttlSecs, h.log)
	return page, cqrs.SourceDatabase, nil
}

func (h *ProductQueryHandlers) handleSearch(ctx context.Context, q cqrs.Query) (interface{}, cqrs.ResultSource, error) {
	qry, ok := q.(SearchProductsQuery)
	if !ok {
		return nil, "", fmt.Errorf("unexpected query %T for type %s", q, QrySearchProducts)
	}
	if qry.Limit == 0 {
		qry.Limit = defaultPageSize
	}

	var cached ProductPage
	if hit := h.cacheGet(ctx, qry.CacheKey(), &cached); hit {
		return cached, cqrs.SourceCache, nil
	}

	criteria := sharedDomain.And(
		domain.NameLikeCriteria{Pattern: "%" + qry.normalizedTerm() + "%"},
	)
	pag := sharedDomain.Pagination{Limit: qry.Limit, Offset: qry.Offset}
	sort := sharedDomain.Sort{Field: "name", Desc: false}

	items, total, err := h.readRepo.List(ctx, criteria, pag, sort)
	if err != nil {
		return nil, "", err
	}

	page := ProductPage{
		Items:      items,
		TotalCount: total,
		Offset:     qry.Offset,
		Limit:      qry.Limit,
		HasMore:    int64(qry.Offset+len(items)) < total,
	}

	cache.AsyncCacheSet(ctx, h.cache, qry.CacheKey(), page, h.ttlSecs, h.log)
	return page, cqrs.SourceDatabase, nil
}

// cacheGet es tolerante a fallos: un error de caché se loguea y se trata
// como miss, nunca tumba la query.
func (h *ProductQueryHandlers) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if h.cache == nil {
		return false
	}
	hit, err := h.cache.Get(ctx, key, dest)
	if err != nil {
		h.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}
