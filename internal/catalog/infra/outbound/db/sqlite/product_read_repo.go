package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Driver de SQLite
)

// ProductReadRepoSQLite implementa ProductReadRepository sobre SQLite, para
// despliegues de un solo nodo donde el event store también vive en SQLite.
type ProductReadRepoSQLite struct {
	db *sql.DB
}

func NewProductReadRepoSQLite(db *sql.DB) *ProductReadRepoSQLite {
	return &ProductReadRepoSQLite{db: db}
}

var _ catalogDomain.ProductReadRepository = (*ProductReadRepoSQLite)(nil)

const productViewColumns = `id, sku, name, description, price_cents, currency, stock, reserved, available, discontinued, version, created_at, updated_at`

// Upsert escribe la vista solo si la versión entrante es mayor que la
// almacenada. Re-aplicar un evento antiguo deja la fila intacta.
func (r *ProductReadRepoSQLite) Upsert(ctx context.Context, view catalogDomain.ProductView) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_views (`+productViewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		view.ID.String(), view.SKU, view.Name, view.Description, view.PriceCents, view.Currency,
		view.Stock, view.Reserved, view.Available, view.Discontinued, view.Version,
		view.CreatedAt.UTC().Format(time.RFC3339Nano), view.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product view: %w", err)
	}
	return nil
}

func (r *ProductReadRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*catalogDomain.ProductView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productViewColumns+` FROM product_views WHERE id = ?`, id.String())
	return scanProductView(row)
}

func (r *ProductReadRepoSQLite) GetBySKU(ctx context.Context, sku string) (*catalogDomain.ProductView, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+productViewColumns+` FROM product_views WHERE sku = ?`, sku)
	return scanProductView(row)
}

// applyCriteria traduce criterios al dialecto de SQLite: placeholders "?",
// e ILIKE (que SQLite no tiene) como LIKE sobre ambos lados en minúsculas.
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
	for _, c := range conds {
		if c.Op == sharedDomain.OpILike {
			clauses = append(clauses, fmt.Sprintf("lower(%s) LIKE lower(?)", c.Field))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s %s ?", c.Field, c.Op))
		}
		args = append(args, c.Value)
	}
	return strings.Join(clauses, " AND "), args
}

// List devuelve una página de vistas junto con el total sin paginar, para
// que el llamante construya el sobre de paginación.
func (r *ProductReadRepoSQLite) List(ctx context.Context, criteria sharedDomain.Criteria, pag sharedDomain.Pagination, sort sharedDomain.Sort) ([]catalogDomain.ProductView, int64, error) {
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
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", sortColumn(sort.Field), direction)
	args = append(args, pag.Limit, pag.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var views []catalogDomain.ProductView
	for rows.Next() {
		var v catalogDomain.ProductView
		var createdAt, updatedAt string
		if err := rows.Scan(
			&v.ID, &v.SKU, &v.Name, &v.Description, &v.PriceCents, &v.Currency,
			&v.Stock, &v.Reserved, &v.Available, &v.Discontinued, &v.Version,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, 0, err
		}
		if err := parseViewTimes(&v, createdAt, updatedAt); err != nil {
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
	var createdAt, updatedAt string
	err := row.Scan(
		&v.ID, &v.SKU, &v.Name, &v.Description, &v.PriceCents, &v.Currency,
		&v.Stock, &v.Reserved, &v.Available, &v.Discontinued, &v.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, catalogDomain.ErrProductNotFound
		}
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	if err := parseViewTimes(&v, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func parseViewTimes(v *catalogDomain.ProductView, createdAt, updatedAt string) error {
	var err error
	if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return fmt.Errorf("failed to parse created_at: %w", err)
	}
	if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return nil
}

// ------------------ Inicialización del Esquema ------------------

// InitSQLiteProductViewSchema crea la tabla del read model si no existe.
func InitSQLiteProductViewSchema(db *sql.DB) error {
	_, err := db.Exec(`
    CREATE TABLE IF NOT EXISTS product_views (
        id TEXT PRIMARY KEY,
        sku TEXT NOT NULL UNIQUE,
        name TEXT NOT NULL,
        description TEXT,
        price_cents INTEGER NOT NULL,
        currency TEXT NOT NULL,
        stock INTEGER NOT NULL,
        reserved INTEGER NOT NULL,
        available INTEGER NOT NULL,
        discontinued BOOLEAN NOT NULL DEFAULT FALSE,
        version INTEGER NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("failed to create product_views table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_product_views_name ON product_views (name)`)
	return err
}
