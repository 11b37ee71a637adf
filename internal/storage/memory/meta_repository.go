package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type metaRepository struct {
	s *Store
}

// NewMetaRepository создаёт in-memory реализацию MetaRepository.
func NewMetaRepository(store *Store) domain.MetaRepository {
	return &metaRepository{s: store}
}

func (r *metaRepository) GetMeta(_ context.Context, kind domain.OwnerKind, ownerID int64) (domain.OpenGraphMeta, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	meta, ok := r.s.metas[metaKey{kind: kind, ownerID: ownerID}]
	if !ok {
		return domain.OpenGraphMeta{}, domain.ErrMetaNotFound
	}
	return meta, nil
}

func (r *metaRepository) SaveMeta(_ context.Context, meta domain.OpenGraphMeta) (domain.OpenGraphMeta, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := metaKey{kind: meta.OwnerKind, ownerID: meta.OwnerID}
	if existing, ok := r.s.metas[key]; ok {
		meta.ID = existing.ID
	} else {
		meta.ID = r.s.nextID("open_graph_meta")
	}
	r.s.metas[key] = meta
	return meta, nil
}

func (r *metaRepository) ProductStats(_ context.Context, kind domain.OwnerKind, ownerID, cityGroupID int64) (int, decimal.NullDecimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	switch kind {
	case domain.OwnerProduct:
		p, ok := r.s.products[ownerID]
		if !ok {
			return 0, decimal.NullDecimal{}, domain.ErrProductNotFound
		}
		count := 0
		for _, other := range r.s.products {
			if other.CategoryID == p.CategoryID {
				count++
			}
		}
		var minPrice decimal.NullDecimal
		if price, ok := r.s.prices[priceKey{productID: p.ID, cityGroupID: cityGroupID}]; ok {
			minPrice = decimal.NewNullDecimal(price.Current)
		}
		return count, minPrice, nil
	case domain.OwnerCategory:
		if _, ok := r.s.categories[ownerID]; !ok {
			return 0, decimal.NullDecimal{}, domain.ErrCategoryNotFound
		}
		subtree := r.s.visibleSubtree(ownerID)
		return r.s.pricedStats(cityGroupID, func(p domain.Product) bool {
			_, ok := subtree[p.CategoryID]
			return ok
		})
	case domain.OwnerBrand:
		if _, ok := r.s.brands[ownerID]; !ok {
			return 0, decimal.NullDecimal{}, domain.ErrBrandNotFound
		}
		return r.s.pricedStats(cityGroupID, func(p domain.Product) bool { return p.BrandID == ownerID })
	default:
		return 0, decimal.NullDecimal{}, nil
	}
}

// visibleSubtree возвращает видимые активные категории поддерева, включая корень.
func (s *Store) visibleSubtree(rootID int64) map[int64]struct{} {
	result := make(map[int64]struct{})
	var walk func(id int64)
	walk = func(id int64) {
		c, ok := s.categories[id]
		if !ok {
			return
		}
		if c.Visible && c.Active {
			result[id] = struct{}{}
		}
		for cid, child := range s.categories {
			if child.ParentID == id {
				walk(cid)
			}
		}
	}
	walk(rootID)
	return result
}

// pricedStats считает товары, имеющие цену в группе, и минимальную цену среди них.
func (s *Store) pricedStats(cityGroupID int64, match func(domain.Product) bool) (int, decimal.NullDecimal, error) {
	var (
		count    int
		minPrice decimal.NullDecimal
	)
	for _, p := range s.products {
		if !match(p) {
			continue
		}
		price, ok := s.prices[priceKey{productID: p.ID, cityGroupID: cityGroupID}]
		if !ok {
			continue
		}
		count++
		if !minPrice.Valid || price.Current.LessThan(minPrice.Decimal) {
			minPrice = decimal.NewNullDecimal(price.Current)
		}
	}
	return count, minPrice, nil
}

var _ domain.MetaRepository = (*metaRepository)(nil)
