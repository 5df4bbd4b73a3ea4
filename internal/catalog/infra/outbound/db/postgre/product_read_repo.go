package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL
)

// ProductReadRepoPostgres implementa ProductReadRepository sobre PostgreSQL.
type ProductReadRepoPostgres struct {
	db *sql.DB
}

func NewProductReadRepoPostgres(db *sql.DB) *ProductReadRepoPostgres {
	return &ProductReadRepoPostgres{db: db}
}

var _ catalogDomain.ProductReadRepository = (*ProductReadRepoPostgres)(nil)

const productViewColumns = `id, sku, name, description, price_cents, currency, stock, reserved, available, discontinued, version, created_at, updated_at`

// Upsert escribe la vista solo si la versión entrante es mayor que la
// almacenada. Re-aplicar un evento antiguo deja la fila intacta.
func (r *ProductReadRepoPostgres) Upsert(ctx context.Context, view catalogDomain.ProductView) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_views (`+productViewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			description = excluded.description,
			price_cents = excluded.price_cents,
			currency = excluded.currency,
			stock = excluded.stock,
			reserved = excluded.reserved,
			available = excluded.available,
			discontinued = excluded.discontinued,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE product_views.version < excluded.version`,
		view.ID, view.SKU, view.Name, view.Description, view.PriceCents, view.Currency,
		view.Stock, view.Reserved, view.Available, view.Discontinued, view.Version,
		view.CreatedAt, view.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product view: %w", err)
	}
	return nil
}

func (r *ProductReadRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*catalogDomain.ProductView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productViewColumns+` FROM product_views WHERE id = $1`, id)
	return scanProductView(row)
}

func (r *ProductReadRepoPostgres) GetBySKU(ctx context.Context, sku string) (*catalogDomain.ProductView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productViewColumns+` FROM product_views WHERE sku = $1`, sku)
	return scanProductView(row)
}

// applyCriteria traduce criterios a SQL para Postgres ($1, $2...).
func applyCriteria(criteria sharedDomain.Criteria) (string, []interface{}) {
	if criteria == nil {
		return "", nil
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return "", nil
	}
	var clauses []string
	var args []interface{}
	for i, c := range conds {
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", c.Field, c.Op, i+1))
		args = append(args, c.Value)
	}
	return strings.Join(clauses, " AND "), args
}

// List devuelve una página de vistas junto con el total sin paginar, para
// que el llamante construya el sobre de paginación.
func (r *ProductReadRepoPostgres) List(ctx context.Context, criteria sharedDomain.Criteria, pag sharedDomain.Pagination, sort sharedDomain.Sort) ([]catalogDomain.ProductView, int64, error) {
	whereSQL, args := applyCriteria(criteria)

	countQuery := "SELECT COUNT(*) FROM product_views"
	if whereSQL != "" {
		countQuery += " WHERE " + whereSQL
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count product views: %w", err)
	}

	query := "SELECT " + productViewColumns + " FROM product_views"
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortColumn(sort.Field), direction)

	argOffset := len(args)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argOffset+1, argOffset+2)
	args = append(args, pag.Limit, pag.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var views []catalogDomain.ProductView
	for rows.Next() {
		var v catalogDomain.ProductView
		if err := rows.Scan(
			&v.ID, &v.SKU, &v.Name, &v.Description, &v.PriceCents, &v.Currency,
			&v.Stock, &v.Reserved, &v.Available, &v.Discontinued, &v.Version,
			&v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

// sortColumn restringe el ordenamiento a columnas conocidas: el campo viene
// del llamante y jamás se interpola sin validar.
func sortColumn(field string) string {
	switch field {
	case "name", "sku", "price_cents", "stock", "updated_at", "created_at":
		return field
	default:
		return "created_at"
	}
}

func scanProductView(row *sql.Row) (*catalogDomain.ProductView, error) {
	var v catalogDomain.ProductView
	err := row.Scan(
		&v.ID, &v.SKU, &v.Name, &v.Description, &v.PriceCents, &v.Currency,
		&v.Stock, &v.Reserved, &v.Available, &v.Discontinued, &v.Version,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, catalogDomain.ErrProductNotFound
		}
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	return &v, nil
}

// ------------------ Inicialización del Esquema ------------------

// InitPostgresProductViewSchema crea la tabla del read model si no existe.
func InitPostgresProductViewSchema(db *sql.DB) error {
	_, err := db.Exec(`
    CREATE TABLE IF NOT EXISTS product_views (
        id UUID PRIMARY KEY,
        sku TEXT NOT NULL UNIQUE,
        name TEXT NOT NULL,
        description TEXT,
        price_cents BIGINT NOT NULL,
        currency TEXT NOT NULL,
        stock INTEGER NOT NULL,
        reserved INTEGER NOT NULL,
        available INTEGER NOT NULL,
        discontinued BOOLEAN NOT NULL DEFAULT FALSE,
        version BIGINT NOT NULL,
        created_at TIMESTAMP WITH TIME ZONE NOT NULL,
        updated_at TIMESTAMP WITH TIME ZONE NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("failed to create product_views table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_product_views_name ON product_views (name)`)
	return err
}
