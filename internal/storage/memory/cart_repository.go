package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	s *Store
}

// NewCartRepository создаёт in-memory реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{s: store}
}

func (r *cartRepository) Upsert(_ context.Context, userID, productID int64, qty int) (domain.CartLine, error) {
	if err := domain.ValidateCartQuantity(qty); err != nil {
		return domain.CartLine{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.products[productID]; !ok {
		return domain.CartLine{}, domain.ErrProductNotFound
	}
	return r.upsertLocked(userID, productID, qty), nil
}

func (r *cartRepository) UpsertMany(_ context.Context, userID int64, items []domain.CartItemInput) ([]domain.CartLine, error) {
	for _, item := range items {
		if err := domain.ValidateCartQuantity(item.Quantity); err != nil {
			return nil, err
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, item := range items {
		if _, ok := r.s.products[item.ProductID]; !ok {
			return nil, domain.ErrProductNotFound
		}
	}
	result := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		result = append(result, r.upsertLocked(userID, item.ProductID, item.Quantity))
	}
	return result, nil
}

func (r *cartRepository) upsertLocked(userID, productID int64, qty int) domain.CartLine {
	now := r.s.now()
	if line, ok := r.findLocked(userID, productID); ok {
		line.Quantity = qty
		line.UpdatedAt = now
		r.s.cartLines[line.ID] = line
		return line
	}
	line := domain.CartLine{
		ID:        r.s.nextID("cart_lines"),
		UserID:    userID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.cartLines[line.ID] = line
	return line
}

func (r *cartRepository) findLocked(userID, productID int64) (domain.CartLine, bool) {
	for _, line := range r.s.cartLines {
		if line.UserID == userID && line.ProductID == productID {
			return line, true
		}
	}
	return domain.CartLine{}, false
}

func (r *cartRepository) Update(_ context.Context, userID, productID int64, qty int) (domain.CartLine, error) {
	if err := domain.ValidateCartQuantity(qty); err != nil {
		return domain.CartLine{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	line, ok := r.findLocked(userID, productID)
	if !ok {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	line.Quantity = qty
	line.UpdatedAt = r.s.now()
	r.s.cartLines[line.ID] = line
	return line, nil
}

func (r *cartRepository) Delete(_ context.Context, userID, productID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	line, ok := r.findLocked(userID, productID)
	if !ok {
		return domain.ErrCartLineNotFound
	}
	delete(r.s.cartLines, line.ID)
	return nil
}

func (r *cartRepository) DeleteAll(_ context.Context, userID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	removed := 0
	for id, line := range r.s.cartLines {
		if line.UserID == userID {
			delete(r.s.cartLines, id)
			removed++
		}
	}
	return removed, nil
}

func (r *cartRepository) DeleteSome(_ context.Context, userID int64, lineIDs []int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	removed := 0
	for _, id := range lineIDs {
		if line, ok := r.s.cartLines[id]; ok && line.UserID == userID {
			delete(r.s.cartLines, id)
			removed++
		}
	}
	return removed, nil
}

func (r *cartRepository) List(_ context.Context, userID int64) ([]domain.CartLine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.userCartLines(userID, nil), nil
}

// userCartLines вызывается под s.mu; пустой lineIDs означает всю корзину.
func (s *Store) userCartLines(userID int64, lineIDs []int64) []domain.CartLine {
	result := make([]domain.CartLine, 0)
	for _, line := range s.cartLines {
		if line.UserID != userID {
			continue
		}
		if len(lineIDs) > 0 && !containsID(lineIDs, line.ID) {
			continue
		}
		result = append(result, line)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *cartRepository) Count(_ context.Context, userID int64) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	total := 0
	for _, line := range r.s.cartLines {
		if line.UserID == userID {
			total += line.Quantity
		}
	}
	return total, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
