// Package catalog реализует чтение каталога с ценами по географии и обслуживание дерева категорий.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

const (
	// DefaultPageSize применяется, если limit не задан.
	DefaultPageSize = 20
	// MaxPageSize ограничивает размер страницы.
	MaxPageSize = 100
	// FrequentlyBoughtLimit — число товаров в блоке «часто покупают вместе».
	FrequentlyBoughtLimit = 10
)

// Annotator размечает товары ценами для домена запроса.
type Annotator interface {
	Annotate(ctx context.Context, products []domain.Product, cityDomain string) ([]pricing.Priced, geo.Location, error)
}

// Query — параметры листинга товаров.
type Query struct {
	CityDomain string
	PriceGTE   decimal.NullDecimal
	PriceLTE   decimal.NullDecimal
	BrandSlug  string
	// Category — slug или числовой идентификатор категории; потомки включаются.
	Category string
	// Characteristics — строка вида "slug:value,slug:value".
	Characteristics string
	Search          string
	Limit           int
	Offset          int
}

// Page — страница листинга и общее число подходящих товаров.
type Page struct {
	Count  int
	Items  []pricing.Priced
	Limit  int
	Offset int
}

// Service обслуживает витринные запросы каталога.
type Service struct {
	catalog   domain.CatalogRepository
	locator   pricing.Locator
	annotator Annotator
	logger    *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(catalog domain.CatalogRepository, locator pricing.Locator, annotator Annotator) *Service {
	return &Service{
		catalog:   catalog,
		locator:   locator,
		annotator: annotator,
		logger:    log.WithField("component", "catalog"),
	}
}

// ListProducts возвращает активные товары по фильтрам с ценами группы домена.
func (s *Service) ListProducts(ctx context.Context, q Query) (Page, error) {
	limit, offset := normalizePage(q.Limit, q.Offset)

	loc, err := s.locator.Resolve(ctx, q.CityDomain)
	if err != nil {
		return Page{}, fmt.Errorf("resolve city: %w", err)
	}

	filter := domain.ProductFilter{
		CityGroupID: loc.Group.ID,
		PriceGTE:    q.PriceGTE,
		PriceLTE:    q.PriceLTE,
		BrandSlug:   q.BrandSlug,
		Search:      q.Search,
		OnlyActive:  true,
		Limit:       limit,
		Offset:      offset,
	}
	if filter.Characteristics, err = ParseCharacteristics(q.Characteristics); err != nil {
		return Page{}, err
	}
	if strings.TrimSpace(q.Category) != "" {
		ids, err := s.categoryScope(ctx, q.Category)
		if errors.Is(err, domain.ErrCategoryNotFound) {
			return Page{Items: []pricing.Priced{}, Limit: limit, Offset: offset}, nil
		}
		if err != nil {
			return Page{}, err
		}
		filter.CategoryIDs = ids
	}

	products, total, err := s.catalog.ListProducts(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("list products: %w", err)
	}
	items, _, err := s.annotator.Annotate(ctx, products, q.CityDomain)
	if err != nil {
		return Page{}, err
	}
	return Page{Count: total, Items: items, Limit: limit, Offset: offset}, nil
}

func (s *Service) categoryScope(ctx context.Context, ref string) ([]int64, error) {
	ref = strings.TrimSpace(ref)
	var (
		category domain.Category
		err      error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		category, err = s.catalog.GetCategory(ctx, id)
	} else {
		category, err = s.catalog.GetCategoryBySlug(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	all, err := s.catalog.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return Descendants(all, category.ID), nil
}

// ParseCharacteristics разбирает фильтр "slug:value,slug:value" в карту slug → значения.
func ParseCharacteristics(raw string) (map[string][]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	result := make(map[string][]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, domain.NewValidationError("characteristics", "ожидается формат name:value,name:value")
		}
		result[name] = append(result[name], value)
	}
	return result, nil
}

// FrequentlyBought возвращает товары, которые покупали вместе с productID, по убыванию счётчика.
func (s *Service) FrequentlyBought(ctx context.Context, productID int64, cityDomain string) ([]pricing.Priced, error) {
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	pairs, err := s.catalog.FrequentlyBought(ctx, productID, FrequentlyBoughtLimit)
	if err != nil {
		return nil, fmt.Errorf("frequently bought: %w", err)
	}
	ids := make([]int64, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.ToProductID)
	}
	return s.annotateOrdered(ctx, ids, cityDomain, false)
}

// Similar возвращает кураторский список похожих товаров: только активные и с ценой.
func (s *Service) Similar(ctx context.Context, productID int64, cityDomain string) ([]pricing.Priced, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.annotateOrdered(ctx, product.SimilarIDs, cityDomain, true)
}

func (s *Service) annotateOrdered(ctx context.Context, ids []int64, cityDomain string, onlyPriced bool) ([]pricing.Priced, error) {
	found, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	products := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok && p.Active {
			products = append(products, p)
		}
	}
	items, _, err := s.annotator.Annotate(ctx, products, cityDomain)
	if err != nil {
		return nil, err
	}
	if onlyPriced {
		items = pricing.OnlyPriced(items)
	}
	return items, nil
}

// RebuildCategoryTree пересчитывает nested set всех категорий.
func (s *Service) RebuildCategoryTree(ctx context.Context) error {
	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	nodes := RebuildTree(categories)
	if err := s.catalog.UpdateCategoryTree(ctx, nodes); err != nil {
		return fmt.Errorf("update category tree: %w", err)
	}
	s.logger.WithField("categories", len(nodes)).Info("category tree rebuilt")
	return nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
