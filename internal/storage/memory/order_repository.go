package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	s *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{s: store}
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) ListByUser(_ context.Context, userID int64) ([]domain.Order, error) {
	return r.list(userID, func(domain.Order) bool { return true }), nil
}

func (r *orderRepository) ListActive(_ context.Context, userID int64) ([]domain.Order, error) {
	return r.list(userID, func(o domain.Order) bool { return o.Status != domain.OrderStatusDelivered }), nil
}

func (r *orderRepository) list(userID int64, keep func(domain.Order) bool) []domain.Order {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.UserID == userID && keep(order) {
			result = append(result, cloneOrder(order))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (r *orderRepository) UpdateStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return domain.NewValidationError("status", "недопустимый статус")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	r.s.orders[id] = order
	return nil
}

// RunInTx выполняет fn под эксклюзивной блокировкой хранилища.
// При ошибке все изменения, сделанные через tx, откатываются.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &orderTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.j.rollback()
		return err
	}
	return nil
}

type orderTx struct {
	s *Store
	j journal
}

func (tx *orderTx) LockCartLines(_ context.Context, userID int64, lineIDs []int64) ([]domain.CartLine, error) {
	return tx.s.userCartLines(userID, lineIDs), nil
}

func (tx *orderTx) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	return tx.s.productsByIDs(ids), nil
}

func (tx *orderTx) GetPrice(_ context.Context, productID, cityGroupID int64) (domain.Price, error) {
	return tx.s.priceOf(productID, cityGroupID)
}

func (tx *orderTx) CreateOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	order.ID = tx.s.nextID("orders")
	if order.CreatedAt.IsZero() {
		order.CreatedAt = tx.s.now()
	}
	order.Lines = nil
	remember(&tx.j, tx.s.orders, order.ID)
	tx.s.orders[order.ID] = order
	return order, nil
}

func (tx *orderTx) CreateOrderLine(_ context.Context, line domain.OrderLine) (domain.OrderLine, error) {
	order, ok := tx.s.orders[line.OrderID]
	if !ok {
		return domain.OrderLine{}, domain.ErrOrderNotFound
	}
	line.ID = tx.s.nextID("order_lines")
	if line.CreatedAt.IsZero() {
		line.CreatedAt = tx.s.now()
	}
	remember(&tx.j, tx.s.orders, order.ID)
	order = cloneOrder(order)
	order.Lines = append(order.Lines, line)
	tx.s.orders[order.ID] = order
	return line, nil
}

func (tx *orderTx) IncrementFrequentlyBought(_ context.Context, fromID, toID int64) error {
	key := fbtKey{from: fromID, to: toID}
	remember(&tx.j, tx.s.fbt, key)
	tx.s.fbt[key]++
	return nil
}

func (tx *orderTx) DeleteCartLine(_ context.Context, lineID int64) error {
	if _, ok := tx.s.cartLines[lineID]; !ok {
		return domain.ErrCartLineNotFound
	}
	remember(&tx.j, tx.s.cartLines, lineID)
	delete(tx.s.cartLines, lineID)
	return nil
}

func (tx *orderTx) SetOrderTotal(_ context.Context, orderID int64, total decimal.Decimal) error {
	order, ok := tx.s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	remember(&tx.j, tx.s.orders, orderID)
	order = cloneOrder(order)
	order.Total = total
	tx.s.orders[orderID] = order
	return nil
}

var (
	_ domain.OrderRepository = (*orderRepository)(nil)
	_ domain.OrderUnitOfWork = (*Store)(nil)
	_ domain.OrderTx         = (*orderTx)(nil)
)
