package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type priceRepository struct {
	s *Store
}

// NewPriceRepository создаёт in-memory реализацию PriceRepository.
func NewPriceRepository(store *Store) domain.PriceRepository {
	return &priceRepository{s: store}
}

func (r *priceRepository) GetPrice(_ context.Context, productID, cityGroupID int64) (domain.Price, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.priceOf(productID, cityGroupID)
}

// priceOf вызывается под s.mu.
func (s *Store) priceOf(productID, cityGroupID int64) (domain.Price, error) {
	price, ok := s.prices[priceKey{productID: productID, cityGroupID: cityGroupID}]
	if !ok {
		return domain.Price{}, domain.ErrPriceNotFound
	}
	return price, nil
}

func (r *priceRepository) ListPrices(_ context.Context, productIDs []int64, cityGroupID int64) (map[int64]domain.Price, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make(map[int64]domain.Price, len(productIDs))
	for _, id := range productIDs {
		if price, ok := r.s.prices[priceKey{productID: id, cityGroupID: cityGroupID}]; ok {
			result[id] = price
		}
	}
	return result, nil
}

func (r *priceRepository) UpsertPrice(_ context.Context, productID, cityGroupID int64, current decimal.Decimal) (domain.Price, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.products[productID]; !ok {
		return domain.Price{}, domain.ErrProductNotFound
	}
	if _, ok := r.s.groups[cityGroupID]; !ok {
		return domain.Price{}, domain.ErrCityGroupNotFound
	}

	key := priceKey{productID: productID, cityGroupID: cityGroupID}
	price, ok := r.s.prices[key]
	if ok {
		price.Reprice(current)
	} else {
		price = domain.Price{
			ID:          r.s.nextID("prices"),
			ProductID:   productID,
			CityGroupID: cityGroupID,
			Current:     current,
		}
	}
	if err := price.Validate(); err != nil {
		return domain.Price{}, err
	}
	price.UpdatedAt = r.s.now()
	r.s.prices[key] = price
	return price, nil
}

func (r *priceRepository) DeletePrice(_ context.Context, productID, cityGroupID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := priceKey{productID: productID, cityGroupID: cityGroupID}
	if _, ok := r.s.prices[key]; !ok {
		return domain.ErrPriceNotFound
	}
	delete(r.s.prices, key)
	return nil
}

var _ domain.PriceRepository = (*priceRepository)(nil)
