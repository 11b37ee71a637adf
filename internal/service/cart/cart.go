// Package cart управляет корзиной пользователя.
package cart

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// Annotator размечает товары ценами и доступностью по домену запроса.
type Annotator interface {
	Annotate(ctx context.Context, products []domain.Product, cityDomain string) ([]pricing.Priced, geo.Location, error)
}

// LineView — позиция корзины с товаром и ценой для города запроса.
type LineView struct {
	Line domain.CartLine
	pricing.Priced
}

// Service реализует операции корзины.
type Service struct {
	carts   domain.CartRepository
	catalog domain.CatalogRepository
	pricing Annotator
	metrics *metrics.StorefrontMetrics
	logger  *log.Entry
}

// NewService создаёт сервис корзины. m может быть nil.
func NewService(carts domain.CartRepository, catalog domain.CatalogRepository, annotator Annotator, m *metrics.StorefrontMetrics) *Service {
	return &Service{
		carts:   carts,
		catalog: catalog,
		pricing: annotator,
		metrics: m,
		logger:  log.WithField("component", "cart"),
	}
}

// Add создаёт позицию или заменяет количество существующей.
func (s *Service) Add(ctx context.Context, userID, productID int64, qty int) (domain.CartLine, error) {
	if err := domain.ValidateCartQuantity(qty); err != nil {
		return domain.CartLine{}, err
	}
	line, err := s.carts.Upsert(ctx, userID, productID, qty)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("upsert cart line: %w", err)
	}
	s.metrics.RecordCartMutation("add")
	return line, nil
}

// BulkAdd суммирует количества повторяющихся товаров во входе,
// затем применяет к каждому товару правило Add.
func (s *Service) BulkAdd(ctx context.Context, userID int64, items []domain.CartItemInput) ([]domain.CartLine, error) {
	merged, err := Coalesce(items)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return []domain.CartLine{}, nil
	}
	lines, err := s.carts.UpsertMany(ctx, userID, merged)
	if err != nil {
		return nil, fmt.Errorf("upsert cart lines: %w", err)
	}
	s.metrics.RecordCartMutation("bulk_add")
	return lines, nil
}

// Coalesce объединяет позиции одного товара, сохраняя порядок первого вхождения.
func Coalesce(items []domain.CartItemInput) ([]domain.CartItemInput, error) {
	index := make(map[int64]int, len(items))
	merged := make([]domain.CartItemInput, 0, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, domain.NewValidationError("product_id", "обязательное поле")
		}
		if item.Quantity < domain.MinCartQuantity {
			return nil, domain.ValidateCartQuantity(item.Quantity)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	for _, item := range merged {
		if err := domain.ValidateCartQuantity(item.Quantity); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// UpdateQuantity меняет количество существующей позиции.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID int64, qty int) (domain.CartLine, error) {
	if err := domain.ValidateCartQuantity(qty); err != nil {
		return domain.CartLine{}, err
	}
	line, err := s.carts.Update(ctx, userID, productID, qty)
	if err != nil {
		return domain.CartLine{}, err
	}
	s.metrics.RecordCartMutation("update")
	return line, nil
}

// Delete удаляет позицию товара.
func (s *Service) Delete(ctx context.Context, userID, productID int64) error {
	if err := s.carts.Delete(ctx, userID, productID); err != nil {
		return err
	}
	s.metrics.RecordCartMutation("delete")
	return nil
}

// DeleteAll очищает корзину и возвращает число удалённых позиций.
func (s *Service) DeleteAll(ctx context.Context, userID int64) (int, error) {
	n, err := s.carts.DeleteAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	s.metrics.RecordCartMutation("delete_all")
	return n, nil
}

// DeleteSome удаляет позиции по их идентификаторам; чужие позиции игнорируются.
func (s *Service) DeleteSome(ctx context.Context, userID int64, lineIDs []int64) (int, error) {
	if len(lineIDs) == 0 {
		return 0, domain.NewValidationError("ids", "список не может быть пустым")
	}
	n, err := s.carts.DeleteSome(ctx, userID, lineIDs)
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}
	s.metrics.RecordCartMutation("delete_some")
	return n, nil
}

// Count возвращает сумму количеств по корзине.
func (s *Service) Count(ctx context.Context, userID int64) (int, error) {
	return s.carts.Count(ctx, userID)
}

// List возвращает позиции с товарами и ценами города запроса.
// Позиции, чей товар исчез из каталога, пропускаются.
func (s *Service) List(ctx context.Context, userID int64, cityDomain string) ([]LineView, error) {
	lines, err := s.carts.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	if len(lines) == 0 {
		return []LineView{}, nil
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}

	present := make([]domain.CartLine, 0, len(lines))
	ordered := make([]domain.Product, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			s.logger.WithFields(log.Fields{"user_id": userID, "product_id": l.ProductID}).Warn("cart line references missing product")
			continue
		}
		present = append(present, l)
		ordered = append(ordered, p)
	}

	priced, _, err := s.pricing.Annotate(ctx, ordered, cityDomain)
	if err != nil {
		return nil, err
	}

	views := make([]LineView, 0, len(present))
	for i, l := range present {
		views = append(views, LineView{Line: l, Priced: priced[i]})
	}
	return views, nil
}
