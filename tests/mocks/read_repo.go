package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// InMemoryProductReadRepo replica el read model con su guardia de versión:
// un Upsert con versión menor o igual que la almacenada es un no-op.
type InMemoryProductReadRepo struct {
	mu    sync.RWMutex
	views map[uuid.UUID]catalogDomain.ProductView

	// Upserts cuenta las escrituras efectivas, para asserts de idempotencia.
	Upserts int
}

var _ catalogDomain.ProductReadRepository = (*InMemoryProductReadRepo)(nil)

func NewInMemoryProductReadRepo() *InMemoryProductReadRepo {
	return &InMemoryProductReadRepo{views: make(map[uuid.UUID]catalogDomain.ProductView)}
}

func (r *InMemoryProductReadRepo) Upsert(ctx context.Context, view catalogDomain.ProductView) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.views[view.ID]; ok && existing.Version >= view.Version {
		return nil
	}
	r.views[view.ID] = view
	r.Upserts++
	return nil
}

func (r *InMemoryProductReadRepo) GetByID(ctx context.Context, id uuid.UUID) (*catalogDomain.ProductView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view, ok := r.views[id]
	if !ok {
		return nil, catalogDomain.ErrProductNotFound
	}
	return &view, nil
}

func (r *InMemoryProductReadRepo) GetBySKU(ctx context.Context, sku string) (*catalogDomain.ProductView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, view := range r.views {
		if view.SKU == sku {
			v := view
			return &v, nil
		}
	}
	return nil, catalogDomain.ErrProductNotFound
}

func (r *InMemoryProductReadRepo) List(ctx context.Context, criteria sharedDomain.Criteria, pag sharedDomain.Pagination, sort_ sharedDomain.Sort) ([]catalogDomain.ProductView, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []catalogDomain.ProductView
	for _, view := range r.views {
		if matchesCriteria(view, criteria) {
			matched = append(matched, view)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		less := matched[i].CreatedAt.Before(matched[j].CreatedAt)
		if sort_.Field == "name" {
			less = matched[i].Name < matched[j].Name
		}
		if sort_.Desc {
			return !less
		}
		return less
	})

	total := int64(len(matched))

	if pag.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[pag.Offset:]
	if pag.Limit > 0 && len(matched) > pag.Limit {
		matched = matched[:pag.Limit]
	}
	return matched, total, nil
}

// matchesCriteria interpreta el subconjunto de operadores que usan las
// queries del catálogo.
func matchesCriteria(view catalogDomain.ProductView, criteria sharedDomain.Criteria) bool {
	if criteria == nil {
		return true
	}
	for _, c := range criteria.ToConditions() {
		switch c.Field {
		case "sku":
			if view.SKU != c.Value.(string) {
				return false
			}
		case "name":
			needle := strings.ToLower(strings.Trim(c.Value.(string), "%"))
			if !strings.Contains(strings.ToLower(view.Name), needle) {
				return false
			}
		case "price_cents":
			price := c.Value.(int64)
			if c.Op == sharedDomain.OpGte && view.PriceCents < price {
				return false
			}
			if c.Op == sharedDomain.OpLte && view.PriceCents > price {
				return false
			}
		case "discontinued":
			if view.Discontinued != c.Value.(bool) {
				return false
			}
		}
	}
	return true
}

// Seed siembra una vista directamente.
func (r *InMemoryProductReadRepo) Seed(view catalogDomain.ProductView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[view.ID] = view
}
