package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
)

// Locator разрешает домен запроса в город и группу.
type Locator interface {
	Resolve(ctx context.Context, cityDomain string) (geo.Location, error)
}

// Priced — товар с ценой и доступностью для конкретного города.
type Priced struct {
	Product   domain.Product
	Quote     domain.PriceQuote
	HasPrice  bool
	Orderable bool
}

// Service считает цены товаров по географии запроса.
type Service struct {
	locator Locator
	prices  domain.PriceRepository
}

// NewService создаёт сервис ценообразования.
func NewService(locator Locator, prices domain.PriceRepository) *Service {
	return &Service{locator: locator, prices: prices}
}

// PriceFor возвращает цену товара в группе домена; ok == false, если цены нет.
func (s *Service) PriceFor(ctx context.Context, productID int64, cityDomain string) (domain.PriceQuote, bool, error) {
	loc, err := s.locator.Resolve(ctx, cityDomain)
	if err != nil {
		return domain.PriceQuote{}, false, fmt.Errorf("resolve city: %w", err)
	}
	return s.PriceIn(ctx, productID, loc.Group.ID)
}

// PriceIn возвращает цену товара в уже известной группе.
func (s *Service) PriceIn(ctx context.Context, productID, cityGroupID int64) (domain.PriceQuote, bool, error) {
	price, err := s.prices.GetPrice(ctx, productID, cityGroupID)
	if errors.Is(err, domain.ErrPriceNotFound) {
		return domain.PriceQuote{}, false, nil
	}
	if err != nil {
		return domain.PriceQuote{}, false, fmt.Errorf("get price: %w", err)
	}
	return price.Quote(), true, nil
}

// Orderable проверяет, что товар активен и не заблокирован в городе домена.
func (s *Service) Orderable(ctx context.Context, product domain.Product, cityDomain string) (bool, error) {
	loc, err := s.locator.Resolve(ctx, cityDomain)
	if err != nil {
		return false, fmt.Errorf("resolve city: %w", err)
	}
	return product.OrderableIn(loc.City.ID), nil
}

// Annotate размечает товары ценой и доступностью одним запросом цен.
func (s *Service) Annotate(ctx context.Context, products []domain.Product, cityDomain string) ([]Priced, geo.Location, error) {
	loc, err := s.locator.Resolve(ctx, cityDomain)
	if err != nil {
		return nil, geo.Location{}, fmt.Errorf("resolve city: %w", err)
	}
	items, err := s.AnnotateIn(ctx, products, loc)
	if err != nil {
		return nil, geo.Location{}, err
	}
	return items, loc, nil
}

// AnnotateIn размечает товары для уже разрешённой географии; порядок сохраняется.
func (s *Service) AnnotateIn(ctx context.Context, products []domain.Product, loc geo.Location) ([]Priced, error) {
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	prices, err := s.prices.ListPrices(ctx, ids, loc.Group.ID)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}

	items := make([]Priced, 0, len(products))
	for _, p := range products {
		item := Priced{Product: p, Orderable: p.OrderableIn(loc.City.ID)}
		if price, ok := prices[p.ID]; ok {
			item.Quote = price.Quote()
			item.HasPrice = true
		}
		items = append(items, item)
	}
	return items, nil
}

// OnlyPriced отбрасывает товары без цены.
func OnlyPriced(items []Priced) []Priced {
	out := items[:0:0]
	for _, item := range items {
		if item.HasPrice {
			out = append(out, item)
		}
	}
	return out
}
