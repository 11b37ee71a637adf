package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

const cartColumns = `id, user_id, product_id, quantity, created_at, updated_at`

func scanCartLine(row interface{ Scan(...any) error }) (domain.CartLine, error) {
	var l domain.CartLine
	err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func upsertCartLine(ctx context.Context, q querier, userID, productID int64, qty int) (domain.CartLine, error) {
	if err := domain.ValidateCartQuantity(qty); err != nil {
		return domain.CartLine{}, err
	}

	now := time.Now().UTC()
	line, err := scanCartLine(q.QueryRowContext(ctx, `
		INSERT INTO cart_lines (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING `+cartColumns,
		userID, productID, qty, now,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.CartLine{}, domain.ErrProductNotFound
		}
		return domain.CartLine{}, fmt.Errorf("upsert cart line: %w", err)
	}
	return line, nil
}

func (r *cartRepository) Upsert(ctx context.Context, userID, productID int64, qty int) (domain.CartLine, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return upsertCartLine(ctx, r.db, userID, productID, qty)
}

func (r *cartRepository) UpsertMany(ctx context.Context, userID int64, items []domain.CartItemInput) ([]domain.CartLine, error) {
	for _, item := range items {
		if err := domain.ValidateCartQuantity(item.Quantity); err != nil {
			return nil, err
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	lines := make([]domain.CartLine, 0, len(items))
	err := inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		for _, item := range items {
			line, err := upsertCartLine(ctx, tx, userID, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *cartRepository) Update(ctx context.Context, userID, productID int64, qty int) (domain.CartLine, error) {
	if err := domain.ValidateCartQuantity(qty); err != nil {
		return domain.CartLine{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	line, err := scanCartLine(r.db.QueryRowContext(ctx, `
		UPDATE cart_lines SET quantity = $3, updated_at = $4
		WHERE user_id = $1 AND product_id = $2
		RETURNING `+cartColumns,
		userID, productID, qty, time.Now().UTC(),
	))
	if err != nil {
		return domain.CartLine{}, notFound(err, domain.ErrCartLineNotFound)
	}
	return line, nil
}

func (r *cartRepository) Delete(ctx context.Context, userID, productID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return mustAffect(res, domain.ErrCartLineNotFound)
}

func (r *cartRepository) DeleteAll(ctx context.Context, userID int64) (int, error) {
	return r.deleteWhere(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
}

func (r *cartRepository) DeleteSome(ctx context.Context, userID int64, lineIDs []int64) (int, error) {
	if len(lineIDs) == 0 {
		return 0, nil
	}
	return r.deleteWhere(ctx, `DELETE FROM cart_lines WHERE user_id = $1 AND id = ANY($2)`, userID, lineIDs)
}

func (r *cartRepository) deleteWhere(ctx context.Context, query string, args ...any) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cart rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *cartRepository) List(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return listCartLines(ctx, r.db, "SELECT "+cartColumns+" FROM cart_lines WHERE user_id = $1 ORDER BY id", userID)
}

func listCartLines(ctx context.Context, q querier, query string, args ...any) ([]domain.CartLine, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *cartRepository) Count(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM cart_lines WHERE user_id = $1
	`, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count cart: %w", err)
	}
	return total, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
