package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepository struct {
	s *Store
}

// NewCatalogRepository создаёт in-memory реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{s: store}
}

func (r *catalogRepository) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

func (r *catalogRepository) GetProductBySlug(_ context.Context, slug string) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.products) {
		if p := r.s.products[id]; p.Slug == slug {
			return cloneProduct(p), nil
		}
	}
	return domain.Product{}, domain.ErrProductNotFound
}

func (r *catalogRepository) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.productsByIDs(ids), nil
}

// productsByIDs вызывается под s.mu.
func (s *Store) productsByIDs(ids []int64) map[int64]domain.Product {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result
}

func (r *catalogRepository) CreateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.insertProduct(nil, p)
}

// insertProduct вызывается под s.mu; j может быть nil вне транзакции.
func (s *Store) insertProduct(j *journal, p domain.Product) (domain.Product, error) {
	if err := s.checkProductUnique(p, 0); err != nil {
		return domain.Product{}, err
	}
	if p.ID == 0 {
		p.ID = s.nextID("products")
	} else {
		if _, exists := s.products[p.ID]; exists {
			return domain.Product{}, domain.ErrConflict
		}
		s.bumpID("products", p.ID)
	}
	if p.Priority == 0 {
		p.Priority = domain.DefaultProductPriority
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	remember(j, s.products, p.ID)
	s.products[p.ID] = cloneProduct(p)
	return cloneProduct(p), nil
}

func (r *catalogRepository) UpdateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.replaceProduct(nil, p)
}

// replaceProduct вызывается под s.mu.
func (s *Store) replaceProduct(j *journal, p domain.Product) (domain.Product, error) {
	current, ok := s.products[p.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err := s.checkProductUnique(p, p.ID); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now()

	remember(j, s.products, p.ID)
	s.products[p.ID] = cloneProduct(p)
	return cloneProduct(p), nil
}

func (s *Store) checkProductUnique(p domain.Product, exceptID int64) error {
	for id, existing := range s.products {
		if id == exceptID {
			continue
		}
		if p.Article != "" && existing.Article == p.Article {
			return domain.ErrArticleTaken
		}
		if p.Slug != "" && existing.Slug == p.Slug {
			return domain.ErrSlugTaken
		}
	}
	return nil
}

func (r *catalogRepository) ListProducts(_ context.Context, f domain.ProductFilter) ([]domain.Product, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var (
		ids       map[int64]struct{}
		brandIDs  map[int64]struct{}
		search    = strings.ToLower(strings.TrimSpace(f.Search))
		brandSlug = strings.ToLower(strings.TrimSpace(f.BrandSlug))
	)
	if len(f.IDs) > 0 {
		ids = make(map[int64]struct{}, len(f.IDs))
		for _, id := range f.IDs {
			ids[id] = struct{}{}
		}
	}
	if brandSlug != "" {
		brandIDs = make(map[int64]struct{})
		for id, b := range r.s.brands {
			if strings.Contains(strings.ToLower(b.Slug), brandSlug) {
				brandIDs[id] = struct{}{}
			}
		}
	}

	matched := make([]domain.Product, 0)
	for _, p := range r.s.products {
		if f.OnlyActive && !p.Active {
			continue
		}
		if ids != nil {
			if _, ok := ids[p.ID]; !ok {
				continue
			}
		}
		if brandIDs != nil {
			if _, ok := brandIDs[p.BrandID]; !ok {
				continue
			}
		}
		if len(f.CategoryIDs) > 0 && !productInAny(p, f.CategoryIDs) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Article), search) {
			continue
		}
		if len(f.Characteristics) > 0 && !r.matchCharacteristics(p.ID, f.Characteristics) {
			continue
		}
		if f.CityGroupID != 0 && (f.OnlyPriced || f.PriceGTE.Valid || f.PriceLTE.Valid) {
			price, ok := r.s.prices[priceKey{productID: p.ID, cityGroupID: f.CityGroupID}]
			if !ok {
				continue
			}
			if f.PriceGTE.Valid && price.Current.LessThan(f.PriceGTE.Decimal) {
				continue
			}
			if f.PriceLTE.Valid && price.Current.GreaterThan(f.PriceLTE.Decimal) {
				continue
			}
		}
		matched = append(matched, cloneProduct(p))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		if matched[i].Title != matched[j].Title {
			return matched[i].Title < matched[j].Title
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	return paginate(matched, f.Limit, f.Offset), total, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func productInAny(p domain.Product, categoryIDs []int64) bool {
	for _, id := range categoryIDs {
		if p.InCategory(id) {
			return true
		}
	}
	return false
}

// matchCharacteristics требует совпадения по каждой характеристике из фильтра.
func (r *catalogRepository) matchCharacteristics(productID int64, want map[string][]string) bool {
	for charSlug, valueSlugs := range want {
		found := false
		for _, v := range r.s.charValues {
			if v.ProductID != productID {
				continue
			}
			ch, ok := r.s.characteristics[v.CharacteristicID]
			if !ok || !ch.ForFiltering || ch.Slug != charSlug {
				continue
			}
			for _, slug := range valueSlugs {
				if v.Slug == slug {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *catalogRepository) FrequentlyBought(_ context.Context, productID int64, limit int) ([]domain.FrequentlyBoughtTogether, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.FrequentlyBoughtTogether, 0)
	for key, count := range r.s.fbt {
		if key.from != productID {
			continue
		}
		result = append(result, domain.FrequentlyBoughtTogether{
			FromProductID: key.from,
			ToProductID:   key.to,
			PurchaseCount: count,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PurchaseCount != result[j].PurchaseCount {
			return result[i].PurchaseCount > result[j].PurchaseCount
		}
		return result[i].ToProductID < result[j].ToProductID
	})
	return paginate(result, limit, 0), nil
}

func (r *catalogRepository) GetCategory(_ context.Context, id int64) (domain.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.categories[id]
	if !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	return c, nil
}

func (r *catalogRepository) GetCategoryBySlug(_ context.Context, slug string) (domain.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.categories) {
		if c := r.s.categories[id]; c.Slug == slug {
			return c, nil
		}
	}
	return domain.Category{}, domain.ErrCategoryNotFound
}

func (r *catalogRepository) CreateCategory(_ context.Context, c domain.Category) (domain.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.insertCategory(nil, c)
}

func (s *Store) insertCategory(j *journal, c domain.Category) (domain.Category, error) {
	if err := c.Validate(); err != nil {
		return domain.Category{}, err
	}
	for _, existing := range s.categories {
		if c.Slug != "" && existing.Slug == c.Slug {
			return domain.Category{}, domain.ErrSlugTaken
		}
	}
	if c.ParentID != 0 {
		if _, ok := s.categories[c.ParentID]; !ok {
			return domain.Category{}, domain.ErrCategoryNotFound
		}
	}
	if c.ID == 0 {
		c.ID = s.nextID("categories")
	} else {
		if _, exists := s.categories[c.ID]; exists {
			return domain.Category{}, domain.ErrConflict
		}
		s.bumpID("categories", c.ID)
	}
	remember(j, s.categories, c.ID)
	s.categories[c.ID] = c
	return c, nil
}

func (r *catalogRepository) UpdateCategory(_ context.Context, c domain.Category) (domain.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.replaceCategory(nil, c)
}

func (s *Store) replaceCategory(j *journal, c domain.Category) (domain.Category, error) {
	if err := c.Validate(); err != nil {
		return domain.Category{}, err
	}
	if _, ok := s.categories[c.ID]; !ok {
		return domain.Category{}, domain.ErrCategoryNotFound
	}
	for id, existing := range s.categories {
		if id != c.ID && c.Slug != "" && existing.Slug == c.Slug {
			return domain.Category{}, domain.ErrSlugTaken
		}
	}
	remember(j, s.categories, c.ID)
	s.categories[c.ID] = c
	return c, nil
}

func (r *catalogRepository) ListCategories(_ context.Context) ([]domain.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Category, 0, len(r.s.categories))
	for _, id := range sortedKeys(r.s.categories) {
		result = append(result, r.s.categories[id])
	}
	return result, nil
}

func (r *catalogRepository) UpdateCategoryTree(_ context.Context, nodes []domain.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, node := range nodes {
		if _, ok := r.s.categories[node.ID]; !ok {
			return domain.ErrCategoryNotFound
		}
	}
	for _, node := range nodes {
		c := r.s.categories[node.ID]
		c.TreeID, c.Lft, c.Rght, c.Level = node.TreeID, node.Lft, node.Rght, node.Level
		r.s.categories[node.ID] = c
	}
	return nil
}

func (r *catalogRepository) GetBrand(_ context.Context, id int64) (domain.Brand, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.brands[id]
	if !ok {
		return domain.Brand{}, domain.ErrBrandNotFound
	}
	return b, nil
}

func (r *catalogRepository) GetBrandBySlug(_ context.Context, slug string) (domain.Brand, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.brands) {
		if b := r.s.brands[id]; b.Slug == slug {
			return b, nil
		}
	}
	return domain.Brand{}, domain.ErrBrandNotFound
}

func (r *catalogRepository) CreateBrand(_ context.Context, b domain.Brand) (domain.Brand, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.insertBrand(nil, b)
}

func (s *Store) insertBrand(j *journal, b domain.Brand) (domain.Brand, error) {
	for _, existing := range s.brands {
		if b.Slug != "" && existing.Slug == b.Slug {
			return domain.Brand{}, domain.ErrSlugTaken
		}
	}
	if b.ID == 0 {
		b.ID = s.nextID("brands")
	} else {
		if _, exists := s.brands[b.ID]; exists {
			return domain.Brand{}, domain.ErrConflict
		}
		s.bumpID("brands", b.ID)
	}
	remember(j, s.brands, b.ID)
	s.brands[b.ID] = b
	return b, nil
}

func (r *catalogRepository) ListBrands(_ context.Context) ([]domain.Brand, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Brand, 0, len(r.s.brands))
	for _, id := range sortedKeys(r.s.brands) {
		result = append(result, r.s.brands[id])
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Order < result[j].Order })
	return result, nil
}

func (r *catalogRepository) CreateCharacteristic(_ context.Context, ch domain.Characteristic) (domain.Characteristic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.characteristics {
		if existing.Slug == ch.Slug {
			return domain.Characteristic{}, domain.ErrSlugTaken
		}
	}
	ch.ID = r.s.nextID("characteristics")
	ch.CategoryIDs = cloneIDs(ch.CategoryIDs)
	r.s.characteristics[ch.ID] = ch
	return ch, nil
}

func (r *catalogRepository) SetCharacteristicValue(_ context.Context, v domain.CharacteristicValue) (domain.CharacteristicValue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.products[v.ProductID]; !ok {
		return domain.CharacteristicValue{}, domain.ErrProductNotFound
	}
	if _, ok := r.s.characteristics[v.CharacteristicID]; !ok {
		return domain.CharacteristicValue{}, domain.ErrNotFound
	}
	if v.Slug == "" {
		v.Slug = domain.MakeSlug(v.Value)
	}
	for id, existing := range r.s.charValues {
		if existing.ProductID == v.ProductID && existing.CharacteristicID == v.CharacteristicID {
			v.ID = id
			r.s.charValues[id] = v
			return v, nil
		}
	}
	v.ID = r.s.nextID("characteristic_values")
	r.s.charValues[v.ID] = v
	return v, nil
}

func (r *catalogRepository) ListCharacteristicValues(_ context.Context, productID int64) ([]domain.CharacteristicValue, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.CharacteristicValue, 0)
	for _, id := range sortedKeys(r.s.charValues) {
		if v := r.s.charValues[id]; v.ProductID == productID {
			result = append(result, v)
		}
	}
	return result, nil
}

func (r *catalogRepository) GetPage(_ context.Context, slug string) (domain.Page, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.pages) {
		if p := r.s.pages[id]; p.Slug == slug {
			return p, nil
		}
	}
	return domain.Page{}, domain.ErrNotFound
}

func (r *catalogRepository) CreatePage(_ context.Context, p domain.Page) (domain.Page, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.pages {
		if existing.Slug == p.Slug {
			return domain.Page{}, domain.ErrSlugTaken
		}
	}
	p.ID = r.s.nextID("pages")
	r.s.pages[p.ID] = p
	return p, nil
}

func (r *catalogRepository) ListPages(_ context.Context) ([]domain.Page, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Page, 0, len(r.s.pages))
	for _, id := range sortedKeys(r.s.pages) {
		result = append(result, r.s.pages[id])
	}
	return result, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
