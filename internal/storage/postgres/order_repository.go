package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderTxTimeout ограничивает транзакцию оформления заказа целиком.
const orderTxTimeout = 15 * time.Second

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `
	id, user_id, status, address, delivery_type,
	receiver_first_name, receiver_last_name, receiver_phone, receiver_email,
	city_domain, total, created_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		o            domain.Order
		status       string
		deliveryType string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &status, &o.Address, &deliveryType,
		&o.Receiver.FirstName, &o.Receiver.LastName, &o.Receiver.Phone, &o.Receiver.Email,
		&o.CityDomain, &o.Total, &o.CreatedAt,
	)
	o.Status = domain.OrderStatus(status)
	o.DeliveryType = domain.DeliveryType(deliveryType)
	return o, err
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	orders, err := r.queryOrders(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
}

func (r *orderRepository) ListActive(ctx context.Context, userID int64) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND status <> $2
		ORDER BY created_at DESC, id DESC
	`, userID, string(domain.OrderStatusDelivered))
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	index := make(map[int64]int)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	lineRows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price, created_at
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var line domain.OrderLine
		if err := lineRows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.Price, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		i := index[line.OrderID]
		orders[i].Lines = append(orders[i].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return domain.NewValidationError("status", "недопустимый статус")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return mustAffect(res, domain.ErrOrderNotFound)
}

// RunInTx выполняет оформление заказа в одной транзакции.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, orderTxTimeout)
	defer cancel()

	return inTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return fn(ctx, &orderTx{tx: tx})
	})
}

type orderTx struct {
	tx *sql.Tx
}

func (t *orderTx) LockCartLines(ctx context.Context, userID int64, lineIDs []int64) ([]domain.CartLine, error) {
	if len(lineIDs) == 0 {
		return listCartLines(ctx, t.tx, `
			SELECT `+cartColumns+` FROM cart_lines WHERE user_id = $1 ORDER BY id FOR UPDATE
		`, userID)
	}
	return listCartLines(ctx, t.tx, `
		SELECT `+cartColumns+` FROM cart_lines WHERE user_id = $1 AND id = ANY($2) ORDER BY id FOR UPDATE
	`, userID, lineIDs)
}

func (t *orderTx) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return getProductsByIDs(ctx, t.tx, ids)
}

func (t *orderTx) GetPrice(ctx context.Context, productID, cityGroupID int64) (domain.Price, error) {
	return getPrice(ctx, t.tx, productID, cityGroupID, false)
}

func (t *orderTx) CreateOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			user_id, status, address, delivery_type,
			receiver_first_name, receiver_last_name, receiver_phone, receiver_email,
			city_domain, total, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`,
		o.UserID, string(o.Status), o.Address, string(o.DeliveryType),
		o.Receiver.FirstName, o.Receiver.LastName, o.Receiver.Phone, o.Receiver.Email,
		o.CityDomain, o.Total, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	o.Lines = nil
	return o, nil
}

func (t *orderTx) CreateOrderLine(ctx context.Context, line domain.OrderLine) (domain.OrderLine, error) {
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO order_lines (order_id, product_id, quantity, price, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, line.OrderID, line.ProductID, line.Quantity, line.Price, line.CreatedAt).Scan(&line.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.OrderLine{}, domain.ErrOrderNotFound
		}
		return domain.OrderLine{}, fmt.Errorf("insert order line: %w", err)
	}
	return line, nil
}

func (t *orderTx) IncrementFrequentlyBought(ctx context.Context, fromID, toID int64) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO frequently_bought_together (from_product_id, to_product_id, purchase_count)
		VALUES ($1,$2,1)
		ON CONFLICT (from_product_id, to_product_id)
		DO UPDATE SET purchase_count = frequently_bought_together.purchase_count + 1
	`, fromID, toID); err != nil {
		return fmt.Errorf("increment frequently bought: %w", err)
	}
	return nil
}

func (t *orderTx) DeleteCartLine(ctx context.Context, lineID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("delete ordered cart line: %w", err)
	}
	return mustAffect(res, domain.ErrCartLineNotFound)
}

func (t *orderTx) SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET total = $2 WHERE id = $1`, orderID, total)
	if err != nil {
		return fmt.Errorf("set order total: %w", err)
	}
	return mustAffect(res, domain.ErrOrderNotFound)
}

var (
	_ domain.OrderRepository = (*orderRepository)(nil)
	_ domain.OrderUnitOfWork = (*Store)(nil)
	_ domain.OrderTx         = (*orderTx)(nil)
)
