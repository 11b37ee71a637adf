package domain

import "strings"

// OwnerKind — тип владельца метаданных (tagged variant вместо content type).
type OwnerKind string

const (
	OwnerProduct  OwnerKind = "product"
	OwnerCategory OwnerKind = "category"
	OwnerBrand    OwnerKind = "brand"
	OwnerPage     OwnerKind = "page"
)

// ParseOwnerKind разбирает тип владельца из строки запроса.
func ParseOwnerKind(s string) (OwnerKind, bool) {
	switch k := OwnerKind(strings.ToLower(strings.TrimSpace(s))); k {
	case OwnerProduct, OwnerCategory, OwnerBrand, OwnerPage:
		return k, true
	default:
		return "", false
	}
}

// Поля метаданных, которые рендерит форматтер.
const (
	MetaFieldTitle       = "title"
	MetaFieldDescription = "description"
	MetaFieldKeywords    = "keywords"
)

// MetaFields перечисляет поля в порядке рендеринга.
var MetaFields = []string{MetaFieldTitle, MetaFieldDescription, MetaFieldKeywords}

// OpenGraphMeta — метаданные конкретного владельца.
// OwnerID == 0 означает шаблон по умолчанию для OwnerKind.
type OpenGraphMeta struct {
	ID          int64
	OwnerKind   OwnerKind
	OwnerID     int64
	Title       string
	Description string
	Keywords    string
	URL         string
	SiteName    string
	Locale      string
}

// FieldValue возвращает значение поля по имени.
func (m OpenGraphMeta) FieldValue(field string) string {
	switch field {
	case MetaFieldTitle:
		return m.Title
	case MetaFieldDescription:
		return m.Description
	case MetaFieldKeywords:
		return m.Keywords
	default:
		return ""
	}
}

// RenderedMeta — результат форматирования метаданных.
type RenderedMeta struct {
	Title       string
	Description string
	Keywords    string
}

// Set записывает значение поля по имени.
func (r *RenderedMeta) Set(field, value string) {
	switch field {
	case MetaFieldTitle:
		r.Title = value
	case MetaFieldDescription:
		r.Description = value
	case MetaFieldKeywords:
		r.Keywords = value
	}
}

// Page — статическая страница витрины, участвует в метаданных и sitemap.
type Page struct {
	ID    int64
	Title string
	Slug  string
}
