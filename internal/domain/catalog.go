package domain

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

const (
	// MinProductPriority и MaxProductPriority ограничивают приоритет сортировки товара.
	MinProductPriority = 1
	MaxProductPriority = 1_000_000
	// DefaultProductPriority назначается товару без явного приоритета.
	DefaultProductPriority = 500
)

// Category — узел дерева категорий.
type Category struct {
	ID int64
	// ParentID — родитель; 0 для корневой категории.
	ParentID    int64
	Name        string
	Slug        string
	Description string
	Image       string
	Visible     bool
	Popular     bool
	Active      bool
	Order       int
	// Поля nested set, пересчитываются RebuildTree.
	TreeID int
	Lft    int
	Rght   int
	Level  int
}

// IsRoot сообщает, что категория корневая.
func (c Category) IsRoot() bool { return c.ParentID == 0 }

// Validate проверяет инварианты категории.
func (c Category) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.Name) == "" {
		verr.Add("name", "обязательное поле")
	}
	if c.Image != "" && !c.IsRoot() {
		verr.Add("image", "изображение допускается только у корневой категории")
	}
	if c.ParentID != 0 && c.ParentID == c.ID {
		verr.Add("parent", "категория не может быть родителем самой себя")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// Brand — производитель товара.
type Brand struct {
	ID     int64
	Name   string
	Slug   string
	Image  string
	Order  int
	Active bool
}

// Product — товар каталога.
type Product struct {
	ID          int64
	Article     string
	Title       string
	Slug        string
	Description string
	CategoryID  int64
	// AdditionalCategoryIDs — дополнительные категории помимо канонической.
	AdditionalCategoryIDs []int64
	// BrandID — 0, если бренд не задан.
	BrandID   int64
	InStock   bool
	Popular   bool
	New       bool
	Active    bool
	Priority  int
	Image     string
	Thumbnail string
	Barcode   string
	Weight    string
	// SimilarIDs — кураторский список похожих товаров.
	SimilarIDs []int64
	// UnavailableIn — города, где товар нельзя заказать.
	UnavailableIn []int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет инварианты товара.
func (p Product) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.Article) == "" {
		verr.Add("article", "обязательное поле")
	}
	if strings.TrimSpace(p.Title) == "" {
		verr.Add("title", "обязательное поле")
	}
	if p.Priority < MinProductPriority || p.Priority > MaxProductPriority {
		verr.Add("priority", "значение должно быть в диапазоне 1..1000000")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// UnavailableInCity сообщает, что товар заблокирован для города.
func (p Product) UnavailableInCity(cityID int64) bool {
	for _, id := range p.UnavailableIn {
		if id == cityID {
			return true
		}
	}
	return false
}

// OrderableIn реализует предикат доступности: активен и не заблокирован в городе.
func (p Product) OrderableIn(cityID int64) bool {
	return p.Active && !p.UnavailableInCity(cityID)
}

// InCategory сообщает, относится ли товар к категории (канонической или дополнительной).
func (p Product) InCategory(categoryID int64) bool {
	if p.CategoryID == categoryID {
		return true
	}
	for _, id := range p.AdditionalCategoryIDs {
		if id == categoryID {
			return true
		}
	}
	return false
}

// Characteristic — характеристика товара, привязанная к категориям.
type Characteristic struct {
	ID           int64
	Name         string
	Slug         string
	CategoryIDs  []int64
	ForFiltering bool
}

// CharacteristicValue — значение характеристики у конкретного товара.
type CharacteristicValue struct {
	ID               int64
	ProductID        int64
	CharacteristicID int64
	Value            string
	Slug             string
}

// Price — цена товара в группе городов. Уникальна по паре (товар, группа).
type Price struct {
	ID          int64
	ProductID   int64
	CityGroupID int64
	Current     decimal.Decimal
	Previous    decimal.NullDecimal
	UpdatedAt   time.Time
}

// Validate проверяет неотрицательность цен.
func (p Price) Validate() error {
	verr := &ValidationError{}
	if p.ProductID == 0 {
		verr.Add("product", "обязательное поле")
	}
	if p.CityGroupID == 0 {
		verr.Add("city_group", "обязательное поле")
	}
	if p.Current.IsNegative() {
		verr.Add("price", "цена не может быть отрицательной")
	}
	if p.Previous.Valid && p.Previous.Decimal.IsNegative() {
		verr.Add("old_price", "цена не может быть отрицательной")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// Reprice меняет текущую цену, перенося прежнее значение в Previous.
func (p *Price) Reprice(current decimal.Decimal) {
	if p.Current.Equal(current) {
		return
	}
	p.Previous = decimal.NewNullDecimal(p.Current)
	p.Current = current
}

// Quote возвращает пару текущая/предыдущая цена.
func (p Price) Quote() PriceQuote {
	return PriceQuote{Current: p.Current, Previous: p.Previous}
}

// PriceQuote — результат ценообразования для товара в городе.
type PriceQuote struct {
	Current  decimal.Decimal
	Previous decimal.NullDecimal
}

// FrequentlyBoughtTogether — упорядоченная пара товаров и число совместных покупок.
type FrequentlyBoughtTogether struct {
	FromProductID int64
	ToProductID   int64
	PurchaseCount int64
}

// MakeSlug строит slug из произвольной строки.
func MakeSlug(s string) string {
	return slug.Make(s)
}
