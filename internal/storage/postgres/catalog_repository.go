package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

const productColumns = `
	p.id, p.article, p.title, COALESCE(p.slug, ''), p.description,
	COALESCE(p.category_id, 0), COALESCE(p.brand_id, 0),
	p.in_stock, p.is_popular, p.is_new, p.is_active, p.priority,
	p.image, p.thumbnail, p.barcode, p.weight, p.created_at, p.updated_at`

// productRelations описывает many-to-many таблицы товара.
var productRelations = []struct {
	table  string
	column string
	assign func(p *domain.Product, id int64)
}{
	{"product_additional_categories", "category_id", func(p *domain.Product, id int64) {
		p.AdditionalCategoryIDs = append(p.AdditionalCategoryIDs, id)
	}},
	{"product_similar", "similar_id", func(p *domain.Product, id int64) {
		p.SimilarIDs = append(p.SimilarIDs, id)
	}},
	{"product_unavailable_in", "city_id", func(p *domain.Product, id int64) {
		p.UnavailableIn = append(p.UnavailableIn, id)
	}},
}

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Article, &p.Title, &p.Slug, &p.Description,
		&p.CategoryID, &p.BrandID,
		&p.InStock, &p.Popular, &p.New, &p.Active, &p.Priority,
		&p.Image, &p.Thumbnail, &p.Barcode, &p.Weight, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// queryProducts читает товары и догружает их связи.
func queryProducts(ctx context.Context, q querier, query string, args ...any) ([]domain.Product, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if err := loadProductRelations(ctx, q, products); err != nil {
		return nil, err
	}
	return products, nil
}

func loadProductRelations(ctx context.Context, q querier, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]int64, len(products))
	index := make(map[int64]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
	}

	for _, rel := range productRelations {
		rows, err := q.QueryContext(ctx, fmt.Sprintf(
			`SELECT product_id, %s FROM %s WHERE product_id = ANY($1) ORDER BY product_id, %s`,
			rel.column, rel.table, rel.column,
		), ids)
		if err != nil {
			return fmt.Errorf("load %s: %w", rel.table, err)
		}
		for rows.Next() {
			var productID, targetID int64
			if err := rows.Scan(&productID, &targetID); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", rel.table, err)
			}
			rel.assign(&products[index[productID]], targetID)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate %s: %w", rel.table, err)
		}
	}
	return nil
}

func getProduct(ctx context.Context, q querier, where string, arg any) (domain.Product, error) {
	products, err := queryProducts(ctx, q, "SELECT "+productColumns+" FROM products p WHERE "+where, arg)
	if err != nil {
		return domain.Product{}, err
	}
	if len(products) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return products[0], nil
}

func getProductsByIDs(ctx context.Context, q querier, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	products, err := queryProducts(ctx, q, "SELECT "+productColumns+" FROM products p WHERE p.id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (r *catalogRepository) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return getProduct(ctx, r.db, "p.id = $1", id)
}

func (r *catalogRepository) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return getProduct(ctx, r.db, "p.slug = $1", slug)
}

func (r *catalogRepository) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return getProductsByIDs(ctx, r.db, ids)
}

func (r *catalogRepository) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.Priority == 0 {
		p.Priority = domain.DefaultProductPriority
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	err := inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO products (
				article, title, slug, description, category_id, brand_id,
				in_stock, is_popular, is_new, is_active, priority,
				image, thumbnail, barcode, weight, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
			RETURNING id
		`,
			p.Article, p.Title, nullText(p.Slug), p.Description, nullID(p.CategoryID), nullID(p.BrandID),
			p.InStock, p.Popular, p.New, p.Active, p.Priority,
			p.Image, p.Thumbnail, p.Barcode, p.Weight, now,
		).Scan(&p.ID)
		if err != nil {
			return productWriteError(err)
		}
		return replaceProductRelations(ctx, tx, p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return p, nil
}

func (r *catalogRepository) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET article = $2, title = $3, slug = $4, description = $5, category_id = $6, brand_id = $7,
			    in_stock = $8, is_popular = $9, is_new = $10, is_active = $11, priority = $12,
			    image = $13, thumbnail = $14, barcode = $15, weight = $16, updated_at = $17
			WHERE id = $1
		`,
			p.ID, p.Article, p.Title, nullText(p.Slug), p.Description, nullID(p.CategoryID), nullID(p.BrandID),
			p.InStock, p.Popular, p.New, p.Active, p.Priority,
			p.Image, p.Thumbnail, p.Barcode, p.Weight, time.Now().UTC(),
		)
		if err != nil {
			return productWriteError(err)
		}
		if err := mustAffect(res, domain.ErrProductNotFound); err != nil {
			return err
		}
		return replaceProductRelations(ctx, tx, p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return getProduct(ctx, r.db, "p.id = $1", p.ID)
}

func replaceProductRelations(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	sets := [][]int64{p.AdditionalCategoryIDs, p.SimilarIDs, p.UnavailableIn}
	for i, rel := range productRelations {
		if err := replaceJoin(ctx, tx, rel.table, "product_id", rel.column, p.ID, sets[i], domain.RelationSet); err != nil {
			return err
		}
	}
	return nil
}

// replaceJoin заменяет или дополняет строки таблицы связи владельца.
func replaceJoin(ctx context.Context, q querier, table, ownerColumn, targetColumn string, ownerID int64, targets []int64, mode domain.RelationMode) error {
	if mode != domain.RelationAdd {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, ownerColumn), ownerID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, %s)
		SELECT $1, t FROM UNNEST($2::bigint[]) AS t
		ON CONFLICT DO NOTHING
	`, table, ownerColumn, targetColumn), ownerID, targets)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%s: %w", table, domain.ErrRecordNotFound)
		}
		return fmt.Errorf("fill %s: %w", table, err)
	}
	return nil
}

func productWriteError(err error) error {
	switch {
	case isUniqueViolation(err) && strings.Contains(constraintName(err), "article"):
		return domain.ErrArticleTaken
	case isUniqueViolation(err):
		return domain.ErrSlugTaken
	case isForeignKeyViolation(err) && strings.Contains(constraintName(err), "brand"):
		return domain.ErrBrandNotFound
	case isForeignKeyViolation(err):
		return domain.ErrCategoryNotFound
	default:
		return fmt.Errorf("write product: %w", err)
	}
}

// whereBuilder собирает условия и позиционные аргументы запроса.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *whereBuilder) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func (r *catalogRepository) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		w    whereBuilder
		from = "products p"
	)
	if f.CityGroupID != 0 && (f.OnlyPriced || f.PriceGTE.Valid || f.PriceLTE.Valid) {
		from += " JOIN prices pr ON pr.product_id = p.id AND pr.city_group_id = " + w.arg(f.CityGroupID)
		if f.PriceGTE.Valid {
			w.add("pr.price >= " + w.arg(f.PriceGTE.Decimal))
		}
		if f.PriceLTE.Valid {
			w.add("pr.price <= " + w.arg(f.PriceLTE.Decimal))
		}
	}
	if f.OnlyActive {
		w.add("p.is_active")
	}
	if len(f.IDs) > 0 {
		w.add("p.id = ANY(" + w.arg(f.IDs) + ")")
	}
	if brand := strings.TrimSpace(f.BrandSlug); brand != "" {
		w.add("p.brand_id IN (SELECT id FROM brands WHERE slug ILIKE " + w.arg(likePattern(brand)) + ")")
	}
	if len(f.CategoryIDs) > 0 {
		ids := w.arg(f.CategoryIDs)
		w.add("(p.category_id = ANY(" + ids + ") OR EXISTS (" +
			"SELECT 1 FROM product_additional_categories pac " +
			"WHERE pac.product_id = p.id AND pac.category_id = ANY(" + ids + ")))")
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := w.arg(likePattern(search))
		w.add("(p.title ILIKE " + pattern + " OR p.article ILIKE " + pattern + ")")
	}
	for charSlug, valueSlugs := range f.Characteristics {
		w.add("EXISTS (SELECT 1 FROM characteristic_values cv " +
			"JOIN characteristics c ON c.id = cv.characteristic_id " +
			"WHERE cv.product_id = p.id AND c.for_filtering AND c.slug = " + w.arg(charSlug) +
			" AND cv.slug = ANY(" + w.arg(valueSlugs) + "))")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+from+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := "SELECT " + productColumns + " FROM " + from + w.sql() + " ORDER BY p.priority DESC, p.title, p.id"
	args := w.args
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	products, err := queryProducts(ctx, r.db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *catalogRepository) FrequentlyBought(ctx context.Context, productID int64, limit int) ([]domain.FrequentlyBoughtTogether, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT from_product_id, to_product_id, purchase_count
		FROM frequently_bought_together
		WHERE from_product_id = $1
		ORDER BY purchase_count DESC, to_product_id`
	args := []any{productID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query frequently bought: %w", err)
	}
	defer rows.Close()

	result := make([]domain.FrequentlyBoughtTogether, 0)
	for rows.Next() {
		var fbt domain.FrequentlyBoughtTogether
		if err := rows.Scan(&fbt.FromProductID, &fbt.ToProductID, &fbt.PurchaseCount); err != nil {
			return nil, fmt.Errorf("scan frequently bought: %w", err)
		}
		result = append(result, fbt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frequently bought: %w", err)
	}
	return result, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
