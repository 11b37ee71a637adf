// Package order оформляет заказы из корзины и отдаёт их историю.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// Причины отказа для метрик.
const (
	reasonEmptyCart   = "empty_cart"
	reasonUnavailable = "unavailable"
	reasonUnpriced    = "unpriced"
	reasonInvalid     = "invalid"
	reasonError       = "error"
)

// Locator разрешает домен запроса в город и группу.
type Locator interface {
	Resolve(ctx context.Context, cityDomain string) (geo.Location, error)
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox подключает очередь задач, в которую ставятся доставка в CRM и событие order.placed.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithTimeline подключает историю заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = timeline }
}

// WithMetrics подключает метрики оформления.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service оформляет заказы.
type Service struct {
	uow      domain.OrderUnitOfWork
	orders   domain.OrderRepository
	locator  Locator
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.StorefrontMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(uow domain.OrderUnitOfWork, orders domain.OrderRepository, locator Locator, opts ...Option) *Service {
	s := &Service{
		uow:     uow,
		orders:  orders,
		locator: locator,
		logger:  log.WithField("component", "order-service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceFromCart оформляет заказ из всей корзины пользователя.
func (s *Service) PlaceFromCart(ctx context.Context, userID int64, draft domain.OrderDraft, cityDomain string) (domain.Order, error) {
	return s.place(ctx, userID, nil, draft, cityDomain)
}

// PlaceFromSelection оформляет заказ из выбранных позиций корзины.
func (s *Service) PlaceFromSelection(ctx context.Context, userID int64, lineIDs []int64, draft domain.OrderDraft, cityDomain string) (domain.Order, error) {
	if len(lineIDs) == 0 {
		return domain.Order{}, domain.NewValidationError("cartitem_ids", "список не может быть пустым")
	}
	return s.place(ctx, userID, dedupe(lineIDs), draft, cityDomain)
}

func (s *Service) place(ctx context.Context, userID int64, lineIDs []int64, draft domain.OrderDraft, cityDomain string) (order domain.Order, err error) {
	ctx, span := tracing.Start(ctx, "order.place",
		attribute.Int64("user_id", userID),
		attribute.String("city_domain", cityDomain),
		attribute.Int("selected_lines", len(lineIDs)),
	)
	defer func() { tracing.End(span, err) }()

	logger := s.logger.WithFields(log.Fields{"user_id": userID, "city_domain": cityDomain})

	if err := draft.Validate(); err != nil {
		s.metrics.RecordOrderFailed(reasonInvalid)
		return domain.Order{}, err
	}

	loc, err := s.locator.Resolve(ctx, cityDomain)
	if err != nil {
		s.metrics.RecordOrderFailed(reasonError)
		return domain.Order{}, fmt.Errorf("resolve city: %w", err)
	}

	s.metrics.PlacementStarted()
	defer s.metrics.PlacementFinished()
	start := time.Now()

	err = s.uow.RunInTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		placed, err := s.placeInTx(ctx, tx, userID, lineIDs, draft, cityDomain, loc)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		s.metrics.RecordOrderFailed(failureReason(err))
		logger.WithError(err).Info("order placement rejected")
		return domain.Order{}, err
	}

	s.metrics.RecordOrderPlaced(time.Since(start))
	span.SetAttributes(attribute.Int64("order_id", order.ID), attribute.String("total", order.Total.StringFixed(2)))
	logger.WithFields(log.Fields{"order_id": order.ID, "total": order.Total.StringFixed(2)}).Info("order placed")

	s.afterCommit(ctx, order)
	return order, nil
}

// placeInTx выполняет шаги оформления внутри транзакции; любая ошибка откатывает всё.
func (s *Service) placeInTx(
	ctx context.Context,
	tx domain.OrderTx,
	userID int64,
	lineIDs []int64,
	draft domain.OrderDraft,
	cityDomain string,
	loc geo.Location,
) (domain.Order, error) {
	lines, err := tx.LockCartLines(ctx, userID, lineIDs)
	if err != nil {
		return domain.Order{}, fmt.Errorf("lock cart lines: %w", err)
	}
	if len(lines) == 0 {
		if lineIDs != nil {
			return domain.Order{}, domain.ErrCartLinesNotFound
		}
		return domain.Order{}, domain.ErrEmptyCart
	}

	productIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
	}
	products, err := tx.GetProducts(ctx, productIDs)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load products: %w", err)
	}

	var blocked []int64
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.OrderableIn(loc.City.ID) {
			blocked = append(blocked, l.ID)
		}
	}
	if len(blocked) > 0 {
		return domain.Order{}, &domain.UnavailableError{CartLineIDs: blocked}
	}

	order, err := tx.CreateOrder(ctx, domain.Order{
		UserID:       userID,
		Status:       domain.OrderStatusPending,
		Address:      draft.Address,
		DeliveryType: draft.DeliveryType,
		Receiver:     draft.Receiver,
		CityDomain:   cityDomain,
		Total:        decimal.Zero,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	total := decimal.Zero
	order.Lines = make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		price, err := tx.GetPrice(ctx, l.ProductID, loc.Group.ID)
		if errors.Is(err, domain.ErrPriceNotFound) {
			return domain.Order{}, &domain.UnpricedError{ProductID: l.ProductID}
		}
		if err != nil {
			return domain.Order{}, fmt.Errorf("get price: %w", err)
		}

		for _, other := range lines {
			if other.ProductID == l.ProductID {
				continue
			}
			if err := tx.IncrementFrequentlyBought(ctx, l.ProductID, other.ProductID); err != nil {
				return domain.Order{}, fmt.Errorf("count frequently bought: %w", err)
			}
		}

		line, err := tx.CreateOrderLine(ctx, domain.OrderLine{
			OrderID:   order.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     price.Current,
			CreatedAt: order.CreatedAt,
		})
		if err != nil {
			return domain.Order{}, fmt.Errorf("create order line: %w", err)
		}
		if err := tx.DeleteCartLine(ctx, l.ID); err != nil {
			return domain.Order{}, fmt.Errorf("drain cart line %d: %w", l.ID, err)
		}

		order.Lines = append(order.Lines, line)
		total = total.Add(line.Total())
	}

	if err := tx.SetOrderTotal(ctx, order.ID, total); err != nil {
		return domain.Order{}, fmt.Errorf("set order total: %w", err)
	}
	order.Total = total
	return order, nil
}

// afterCommit ставит фоновые задачи; ошибки только логируются, заказ уже создан.
func (s *Service) afterCommit(ctx context.Context, order domain.Order) {
	logger := s.logger.WithField("order_id", order.ID)
	aggregateID := strconv.FormatInt(order.ID, 10)

	if s.outbox != nil {
		if err := s.enqueue(ctx, aggregateID, domain.EventCRMOrderCreated, domain.CRMOrderJob{
			OrderID: order.ID,
			Domain:  order.CityDomain,
		}); err != nil {
			logger.WithError(err).Error("failed to enqueue CRM delivery")
		}
		if err := s.enqueue(ctx, aggregateID, domain.EventOrderPlaced, placedEvent(order)); err != nil {
			logger.WithError(err).Error("failed to enqueue order.placed event")
		}
	}

	if s.timeline != nil {
		if err := s.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderPlaced,
			Occurred: order.CreatedAt,
		}); err != nil {
			logger.WithError(err).Warn("failed to append order timeline")
			return
		}
		s.metrics.RecordTimelineEvent()
	}
}

func (s *Service) enqueue(ctx context.Context, aggregateID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	_, err = s.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateOrder,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	})
	return err
}

func placedEvent(order domain.Order) domain.OrderPlacedEvent {
	lines := make([]domain.OrderPlacedLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, domain.OrderPlacedLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     l.Price.StringFixed(2),
		})
	}
	return domain.OrderPlacedEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		CityDomain: order.CityDomain,
		Total:      order.Total.StringFixed(2),
		Lines:      lines,
		PlacedAt:   order.CreatedAt,
	}
}

// Get возвращает заказ пользователя; чужой заказ виден только персоналу.
func (s *Service) Get(ctx context.Context, userID int64, staff bool, orderID int64) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !staff && order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает все заказы пользователя.
func (s *Service) List(ctx context.Context, userID int64) ([]domain.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// ListActive возвращает заказы пользователя, кроме доставленных.
func (s *Service) ListActive(ctx context.Context, userID int64) ([]domain.Order, error) {
	return s.orders.ListActive(ctx, userID)
}

// UpdateStatus меняет статус заказа.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return domain.NewValidationError("status", "недопустимый статус заказа")
	}
	return s.orders.UpdateStatus(ctx, orderID, status)
}

// Timeline возвращает историю заказа.
func (s *Service) Timeline(ctx context.Context, userID int64, staff bool, orderID int64) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(ctx, userID, staff, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(ctx, orderID)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrCartLinesNotFound):
		return reasonEmptyCart
	case errors.Is(err, domain.ErrUnavailable):
		return reasonUnavailable
	case errors.Is(err, domain.ErrUnpriced):
		return reasonUnpriced
	default:
		return reasonError
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
