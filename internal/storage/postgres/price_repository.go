package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type priceRepository struct {
	db *sql.DB
}

// NewPriceRepository создаёт PostgreSQL-реализацию PriceRepository.
func NewPriceRepository(store *Store) domain.PriceRepository {
	return &priceRepository{db: store.DB()}
}

const priceColumns = `id, product_id, city_group_id, price, old_price, updated_at`

func scanPrice(row interface{ Scan(...any) error }) (domain.Price, error) {
	var p domain.Price
	err := row.Scan(&p.ID, &p.ProductID, &p.CityGroupID, &p.Current, &p.Previous, &p.UpdatedAt)
	return p, err
}

func getPrice(ctx context.Context, q querier, productID, cityGroupID int64, lock bool) (domain.Price, error) {
	query := "SELECT " + priceColumns + " FROM prices WHERE product_id = $1 AND city_group_id = $2"
	if lock {
		query += " FOR UPDATE"
	}
	p, err := scanPrice(q.QueryRowContext(ctx, query, productID, cityGroupID))
	if err != nil {
		return domain.Price{}, notFound(err, domain.ErrPriceNotFound)
	}
	return p, nil
}

func (r *priceRepository) GetPrice(ctx context.Context, productID, cityGroupID int64) (domain.Price, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return getPrice(ctx, r.db, productID, cityGroupID, false)
}

func (r *priceRepository) ListPrices(ctx context.Context, productIDs []int64, cityGroupID int64) (map[int64]domain.Price, error) {
	result := make(map[int64]domain.Price, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+priceColumns+`
		FROM prices
		WHERE city_group_id = $1 AND product_id = ANY($2)
	`, cityGroupID, productIDs)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		result[p.ProductID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prices: %w", err)
	}
	return result, nil
}

func (r *priceRepository) UpsertPrice(ctx context.Context, productID, cityGroupID int64, current decimal.Decimal) (domain.Price, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var price domain.Price
	err := inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		existing, err := getPrice(ctx, tx, productID, cityGroupID, true)
		switch {
		case err == nil:
			price = existing
			price.Reprice(current)
		case domain.IsNotFound(err):
			price = domain.Price{ProductID: productID, CityGroupID: cityGroupID, Current: current}
		default:
			return err
		}
		if err := price.Validate(); err != nil {
			return err
		}
		price.UpdatedAt = time.Now().UTC()

		err = tx.QueryRowContext(ctx, `
			INSERT INTO prices (product_id, city_group_id, price, old_price, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (product_id, city_group_id)
			DO UPDATE SET price = EXCLUDED.price, old_price = EXCLUDED.old_price, updated_at = EXCLUDED.updated_at
			RETURNING id
		`, productID, cityGroupID, price.Current, price.Previous, price.UpdatedAt).Scan(&price.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("price refs: %w", domain.ErrNotFound)
			}
			return fmt.Errorf("upsert price: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Price{}, err
	}
	return price, nil
}

func (r *priceRepository) DeletePrice(ctx context.Context, productID, cityGroupID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM prices WHERE product_id = $1 AND city_group_id = $2
	`, productID, cityGroupID)
	if err != nil {
		return fmt.Errorf("delete price: %w", err)
	}
	return mustAffect(res, domain.ErrPriceNotFound)
}

var _ domain.PriceRepository = (*priceRepository)(nil)
