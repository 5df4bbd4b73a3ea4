package domain

import (
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
)

// Criterios de filtrado del catálogo, traducidos por cada adapter de
// lectura a su propio dialecto.

// BySKUCriteria filtra por SKU exacto.
type BySKUCriteria struct {
	SKU string
}

func (c BySKUCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: "sku", Op: sharedDomain.OpEq, Value: c.SKU}}
}

// NameLikeCriteria busca por nombre con comodines.
type NameLikeCriteria struct {
	Pattern string // ej. "%teclado%"
}

func (c NameLikeCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: "name", Op: sharedDomain.OpILike, Value: c.Pattern}}
}

// PriceRangeCriteria acota el precio en céntimos. Cero en cualquiera de los
// extremos significa sin límite.
type PriceRangeCriteria struct {
	MinCents int64
	MaxCents int64
}

func (c PriceRangeCriteria) ToConditions() []sharedDomain.Criterion {
	var conds []sharedDomain.Criterion
	if c.MinCents > 0 {
		conds = append(conds, sharedDomain.Criterion{Field: "price_cents", Op: sharedDomain.OpGte, Value: c.MinCents})
	}
	if c.MaxCents > 0 {
		conds = append(conds, sharedDomain.Criterion{Field: "price_cents", Op: sharedDomain.OpLte, Value: c.MaxCents})
	}
	return conds
}

// DiscontinuedCriteria filtra por estado de catálogo.
type DiscontinuedCriteria struct {
	Discontinued bool
}

func (c DiscontinuedCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: "discontinued", Op: sharedDomain.OpEq, Value: c.Discontinued}}
}
