package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type metaRepository struct {
	db *sql.DB
}

// NewMetaRepository создаёт PostgreSQL-реализацию MetaRepository.
func NewMetaRepository(store *Store) domain.MetaRepository {
	return &metaRepository{db: store.DB()}
}

func (r *metaRepository) GetMeta(ctx context.Context, kind domain.OwnerKind, ownerID int64) (domain.OpenGraphMeta, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		m     domain.OpenGraphMeta
		owner string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_kind, owner_id, title, description, keywords, url, site_name, locale
		FROM open_graph_meta
		WHERE owner_kind = $1 AND owner_id = $2
	`, string(kind), ownerID).Scan(
		&m.ID, &owner, &m.OwnerID, &m.Title, &m.Description, &m.Keywords, &m.URL, &m.SiteName, &m.Locale,
	)
	if err != nil {
		return domain.OpenGraphMeta{}, notFound(err, domain.ErrMetaNotFound)
	}
	m.OwnerKind = domain.OwnerKind(owner)
	return m, nil
}

func (r *metaRepository) SaveMeta(ctx context.Context, m domain.OpenGraphMeta) (domain.OpenGraphMeta, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO open_graph_meta (owner_kind, owner_id, title, description, keywords, url, site_name, locale)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (owner_kind, owner_id) DO UPDATE
		SET title = EXCLUDED.title, description = EXCLUDED.description, keywords = EXCLUDED.keywords,
		    url = EXCLUDED.url, site_name = EXCLUDED.site_name, locale = EXCLUDED.locale
		RETURNING id
	`, string(m.OwnerKind), m.OwnerID, m.Title, m.Description, m.Keywords, m.URL, m.SiteName, m.Locale).Scan(&m.ID)
	if err != nil {
		return domain.OpenGraphMeta{}, fmt.Errorf("save open graph meta: %w", err)
	}
	return m, nil
}

func (r *metaRepository) ProductStats(ctx context.Context, kind domain.OwnerKind, ownerID, cityGroupID int64) (int, decimal.NullDecimal, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		count    int
		minPrice decimal.NullDecimal
		err      error
	)
	switch kind {
	case domain.OwnerProduct:
		err = r.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM products o WHERE o.category_id IS NOT DISTINCT FROM p.category_id),
				(SELECT pr.price FROM prices pr WHERE pr.product_id = p.id AND pr.city_group_id = $2)
			FROM products p
			WHERE p.id = $1
		`, ownerID, cityGroupID).Scan(&count, &minPrice)
		err = notFound(err, domain.ErrProductNotFound)
	case domain.OwnerCategory:
		if err = r.exists(ctx, "categories", ownerID, domain.ErrCategoryNotFound); err != nil {
			return 0, decimal.NullDecimal{}, err
		}
		err = r.db.QueryRowContext(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id, is_visible, is_active FROM categories WHERE id = $1
				UNION ALL
				SELECT c.id, c.is_visible, c.is_active
				FROM categories c JOIN subtree s ON c.parent_id = s.id
			)
			SELECT COUNT(*), MIN(pr.price)
			FROM products p
			JOIN prices pr ON pr.product_id = p.id AND pr.city_group_id = $2
			WHERE p.category_id IN (SELECT id FROM subtree WHERE is_visible AND is_active)
		`, ownerID, cityGroupID).Scan(&count, &minPrice)
	case domain.OwnerBrand:
		if err = r.exists(ctx, "brands", ownerID, domain.ErrBrandNotFound); err != nil {
			return 0, decimal.NullDecimal{}, err
		}
		err = r.db.QueryRowContext(ctx, `
			SELECT COUNT(*), MIN(pr.price)
			FROM products p
			JOIN prices pr ON pr.product_id = p.id AND pr.city_group_id = $2
			WHERE p.brand_id = $1
		`, ownerID, cityGroupID).Scan(&count, &minPrice)
	default:
		return 0, decimal.NullDecimal{}, nil
	}
	if err != nil {
		if domain.IsNotFound(err) {
			return 0, decimal.NullDecimal{}, err
		}
		return 0, decimal.NullDecimal{}, fmt.Errorf("product stats for %s %d: %w", kind, ownerID, err)
	}
	return count, minPrice, nil
}

func (r *metaRepository) exists(ctx context.Context, table string, id int64, missing error) error {
	var found bool
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), id).Scan(&found); err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !found {
		return missing
	}
	return nil
}

var _ domain.MetaRepository = (*metaRepository)(nil)
