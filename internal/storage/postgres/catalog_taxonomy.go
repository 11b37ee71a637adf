package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const categoryColumns = `
	id, COALESCE(parent_id, 0), name, slug, description, image,
	is_visible, is_popular, is_active, ordering, tree_id, lft, rght, level`

func scanCategory(row interface{ Scan(...any) error }) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(
		&c.ID, &c.ParentID, &c.Name, &c.Slug, &c.Description, &c.Image,
		&c.Visible, &c.Popular, &c.Active, &c.Order, &c.TreeID, &c.Lft, &c.Rght, &c.Level,
	)
	return c, err
}

func (r *catalogRepository) getCategory(ctx context.Context, where string, arg any) (domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	c, err := scanCategory(r.db.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE "+where, arg))
	if err != nil {
		return domain.Category{}, notFound(err, domain.ErrCategoryNotFound)
	}
	return c, nil
}

func (r *catalogRepository) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	return r.getCategory(ctx, "id = $1", id)
}

func (r *catalogRepository) GetCategoryBySlug(ctx context.Context, slug string) (domain.Category, error) {
	return r.getCategory(ctx, "slug = $1", slug)
}

func (r *catalogRepository) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	if err := c.Validate(); err != nil {
		return domain.Category{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO categories (
			parent_id, name, slug, description, image, is_visible, is_popular, is_active, ordering
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`,
		nullID(c.ParentID), c.Name, c.Slug, c.Description, c.Image,
		c.Visible, c.Popular, c.Active, c.Order,
	).Scan(&c.ID)
	if err != nil {
		return domain.Category{}, categoryWriteError(err)
	}
	return c, nil
}

func (r *catalogRepository) UpdateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	if err := c.Validate(); err != nil {
		return domain.Category{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE categories
		SET parent_id = $2, name = $3, slug = $4, description = $5, image = $6,
		    is_visible = $7, is_popular = $8, is_active = $9, ordering = $10
		WHERE id = $1
	`,
		c.ID, nullID(c.ParentID), c.Name, c.Slug, c.Description, c.Image,
		c.Visible, c.Popular, c.Active, c.Order,
	)
	if err != nil {
		return domain.Category{}, categoryWriteError(err)
	}
	if err := mustAffect(res, domain.ErrCategoryNotFound); err != nil {
		return domain.Category{}, err
	}
	return r.GetCategory(ctx, c.ID)
}

func categoryWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return domain.ErrSlugTaken
	case isForeignKeyViolation(err):
		return domain.ErrCategoryNotFound
	default:
		return fmt.Errorf("write category: %w", err)
	}
}

func (r *catalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, "SELECT "+categoryColumns+" FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return result, nil
}

func (r *catalogRepository) UpdateCategoryTree(ctx context.Context, nodes []domain.Category) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE categories SET tree_id = $2, lft = $3, rght = $4, level = $5 WHERE id = $1
		`)
		if err != nil {
			return fmt.Errorf("prepare category tree update: %w", err)
		}
		defer stmt.Close()

		for _, node := range nodes {
			res, err := stmt.ExecContext(ctx, node.ID, node.TreeID, node.Lft, node.Rght, node.Level)
			if err != nil {
				return fmt.Errorf("update category tree node %d: %w", node.ID, err)
			}
			if err := mustAffect(res, domain.ErrCategoryNotFound); err != nil {
				return err
			}
		}
		return nil
	})
}

const brandColumns = `id, name, slug, image, ordering, is_active`

func scanBrand(row interface{ Scan(...any) error }) (domain.Brand, error) {
	var b domain.Brand
	err := row.Scan(&b.ID, &b.Name, &b.Slug, &b.Image, &b.Order, &b.Active)
	return b, err
}

func (r *catalogRepository) getBrand(ctx context.Context, where string, arg any) (domain.Brand, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	b, err := scanBrand(r.db.QueryRowContext(ctx, "SELECT "+brandColumns+" FROM brands WHERE "+where, arg))
	if err != nil {
		return domain.Brand{}, notFound(err, domain.ErrBrandNotFound)
	}
	return b, nil
}

func (r *catalogRepository) GetBrand(ctx context.Context, id int64) (domain.Brand, error) {
	return r.getBrand(ctx, "id = $1", id)
}

func (r *catalogRepository) GetBrandBySlug(ctx context.Context, slug string) (domain.Brand, error) {
	return r.getBrand(ctx, "slug = $1", slug)
}

func (r *catalogRepository) CreateBrand(ctx context.Context, b domain.Brand) (domain.Brand, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO brands (name, slug, image, ordering, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, b.Name, b.Slug, b.Image, b.Order, b.Active).Scan(&b.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Brand{}, domain.ErrSlugTaken
		}
		return domain.Brand{}, fmt.Errorf("insert brand: %w", err)
	}
	return b, nil
}

func (r *catalogRepository) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, "SELECT "+brandColumns+" FROM brands ORDER BY ordering, id")
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Brand, 0)
	for rows.Next() {
		b, err := scanBrand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brands: %w", err)
	}
	return result, nil
}

func (r *catalogRepository) CreateCharacteristic(ctx context.Context, ch domain.Characteristic) (domain.Characteristic, error) {
	if ch.Slug == "" {
		ch.Slug = domain.MakeSlug(ch.Name)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO characteristics (name, slug, for_filtering)
			VALUES ($1,$2,$3)
			RETURNING id
		`, ch.Name, ch.Slug, ch.ForFiltering).Scan(&ch.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrSlugTaken
			}
			return fmt.Errorf("insert characteristic: %w", err)
		}
		return replaceJoin(ctx, tx, "characteristic_categories", "characteristic_id", "category_id",
			ch.ID, ch.CategoryIDs, domain.RelationSet)
	})
	if err != nil {
		return domain.Characteristic{}, err
	}
	return ch, nil
}

func (r *catalogRepository) SetCharacteristicValue(ctx context.Context, v domain.CharacteristicValue) (domain.CharacteristicValue, error) {
	if v.Slug == "" {
		v.Slug = domain.MakeSlug(v.Value)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO characteristic_values (product_id, characteristic_id, value, slug)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (product_id, characteristic_id)
		DO UPDATE SET value = EXCLUDED.value, slug = EXCLUDED.slug
		RETURNING id
	`, v.ProductID, v.CharacteristicID, v.Value, v.Slug).Scan(&v.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.CharacteristicValue{}, fmt.Errorf("characteristic value refs: %w", domain.ErrNotFound)
		}
		return domain.CharacteristicValue{}, fmt.Errorf("upsert characteristic value: %w", err)
	}
	return v, nil
}

func (r *catalogRepository) ListCharacteristicValues(ctx context.Context, productID int64) ([]domain.CharacteristicValue, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, characteristic_id, value, slug
		FROM characteristic_values
		WHERE product_id = $1
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list characteristic values: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CharacteristicValue, 0)
	for rows.Next() {
		var v domain.CharacteristicValue
		if err := rows.Scan(&v.ID, &v.ProductID, &v.CharacteristicID, &v.Value, &v.Slug); err != nil {
			return nil, fmt.Errorf("scan characteristic value: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characteristic values: %w", err)
	}
	return result, nil
}

func (r *catalogRepository) GetPage(ctx context.Context, slug string) (domain.Page, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var p domain.Page
	err := r.db.QueryRowContext(ctx, `SELECT id, title, slug FROM pages WHERE slug = $1`, slug).Scan(&p.ID, &p.Title, &p.Slug)
	if err != nil {
		return domain.Page{}, notFound(err, domain.ErrNotFound)
	}
	return p, nil
}

func (r *catalogRepository) CreatePage(ctx context.Context, p domain.Page) (domain.Page, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO pages (title, slug) VALUES ($1,$2) RETURNING id
	`, p.Title, p.Slug).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Page{}, domain.ErrSlugTaken
		}
		return domain.Page{}, fmt.Errorf("insert page: %w", err)
	}
	return p, nil
}

func (r *catalogRepository) ListPages(ctx context.Context) ([]domain.Page, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, title, slug FROM pages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Page, 0)
	for rows.Next() {
		var p domain.Page
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return result, nil
}
