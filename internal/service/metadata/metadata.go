// Package metadata рендерит SEO-метаданные сущностей по шаблонам с подстановками.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/morph"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// MissingPrice подставляется в {price}, если цены нет.
const MissingPrice = "--"

// Owner — сущность, для которой рендерятся метаданные.
type Owner struct {
	Kind domain.OwnerKind
	ID   int64
	Name string
}

// Formatter выбирает шаблоны и подставляет значения.
type Formatter struct {
	catalog domain.CatalogRepository
	metas   domain.MetaRepository
	locator pricing.Locator
	logger  *log.Entry
}

// NewFormatter создаёт форматтер метаданных.
func NewFormatter(catalog domain.CatalogRepository, metas domain.MetaRepository, locator pricing.Locator) *Formatter {
	return &Formatter{
		catalog: catalog,
		metas:   metas,
		locator: locator,
		logger:  log.WithField("component", "metadata"),
	}
}

// RenderBySlug находит владельца по slug и рендерит его метаданные для домена.
func (f *Formatter) RenderBySlug(ctx context.Context, kind domain.OwnerKind, slug, cityDomain string) (domain.RenderedMeta, error) {
	owner, err := f.resolveOwner(ctx, kind, slug)
	if err != nil {
		return domain.RenderedMeta{}, err
	}
	return f.Render(ctx, owner, cityDomain)
}

func (f *Formatter) resolveOwner(ctx context.Context, kind domain.OwnerKind, slug string) (Owner, error) {
	switch kind {
	case domain.OwnerProduct:
		p, err := f.catalog.GetProductBySlug(ctx, slug)
		if err != nil {
			return Owner{}, err
		}
		return Owner{Kind: kind, ID: p.ID, Name: p.Title}, nil
	case domain.OwnerCategory:
		c, err := f.catalog.GetCategoryBySlug(ctx, slug)
		if err != nil {
			return Owner{}, err
		}
		return Owner{Kind: kind, ID: c.ID, Name: c.Name}, nil
	case domain.OwnerBrand:
		b, err := f.catalog.GetBrandBySlug(ctx, slug)
		if err != nil {
			return Owner{}, err
		}
		return Owner{Kind: kind, ID: b.ID, Name: b.Name}, nil
	case domain.OwnerPage:
		p, err := f.catalog.GetPage(ctx, slug)
		if err != nil {
			return Owner{}, err
		}
		return Owner{Kind: kind, ID: p.ID, Name: p.Title}, nil
	default:
		return Owner{}, domain.NewValidationError("content_type", "неизвестный тип владельца")
	}
}

// Render выбирает для каждого поля переопределение владельца, затем шаблон по умолчанию
// его типа. Поле без обоих источников даёт TemplateMissingError.
func (f *Formatter) Render(ctx context.Context, owner Owner, cityDomain string) (domain.RenderedMeta, error) {
	override, err := f.meta(ctx, owner.Kind, owner.ID)
	if err != nil {
		return domain.RenderedMeta{}, err
	}
	var defaults domain.OpenGraphMeta
	if owner.ID != 0 {
		if defaults, err = f.meta(ctx, owner.Kind, 0); err != nil {
			return domain.RenderedMeta{}, err
		}
	}

	templates := make(map[string]string, len(domain.MetaFields))
	for _, field := range domain.MetaFields {
		tmpl := override.FieldValue(field)
		if strings.TrimSpace(tmpl) == "" {
			tmpl = defaults.FieldValue(field)
		}
		if strings.TrimSpace(tmpl) == "" {
			return domain.RenderedMeta{}, &domain.TemplateMissingError{Owner: string(owner.Kind), Field: field}
		}
		templates[field] = tmpl
	}

	vars, err := f.variables(ctx, owner, cityDomain)
	if err != nil {
		return domain.RenderedMeta{}, err
	}

	var out domain.RenderedMeta
	for field, tmpl := range templates {
		out.Set(field, Format(tmpl, vars))
	}
	return out, nil
}

func (f *Formatter) meta(ctx context.Context, kind domain.OwnerKind, ownerID int64) (domain.OpenGraphMeta, error) {
	m, err := f.metas.GetMeta(ctx, kind, ownerID)
	if errors.Is(err, domain.ErrMetaNotFound) {
		return domain.OpenGraphMeta{}, nil
	}
	if err != nil {
		return domain.OpenGraphMeta{}, fmt.Errorf("get meta: %w", err)
	}
	return m, nil
}

func (f *Formatter) variables(ctx context.Context, owner Owner, cityDomain string) (map[string]string, error) {
	loc, err := f.locator.Resolve(ctx, cityDomain)
	if err != nil {
		return nil, fmt.Errorf("resolve city: %w", err)
	}

	count, minPrice, err := f.metas.ProductStats(ctx, owner.Kind, owner.ID, loc.Group.ID)
	if err != nil {
		return nil, fmt.Errorf("product stats: %w", err)
	}

	vars := map[string]string{
		"object_name": owner.Name,
		"price":       FormatPrice(minPrice),
		"count":       CorrectEnding(count),
		"city_group":  loc.Group.Name,
	}
	cityCases := completeCases(loc.City.Cases, loc.City.Name)
	groupCases := completeCases(loc.Group.Cases, loc.Group.Name)
	for _, gc := range domain.GrammaticalCases {
		vars["c_"+string(gc)] = cityCases.Get(gc, loc.City.Name)
		vars["cg_"+string(gc)] = groupCases.Get(gc, loc.Group.Name)
	}
	return vars, nil
}

func completeCases(cases domain.NameCases, name string) domain.NameCases {
	if cases.Complete() || strings.TrimSpace(name) == "" {
		return cases
	}
	return morph.Cases(name)
}

// FormatPrice отбрасывает дробную часть цены; отсутствие цены даёт "--".
func FormatPrice(price decimal.NullDecimal) string {
	if !price.Valid {
		return MissingPrice
	}
	return price.Decimal.Truncate(0).String()
}

// CorrectEnding возвращает число со словом «товар» в нужной форме.
func CorrectEnding(n int) string {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs%10 == 1 && abs%100 != 11:
		return fmt.Sprintf("%d товар", n)
	case abs%10 >= 2 && abs%10 <= 4 && (abs%100 < 12 || abs%100 > 14):
		return fmt.Sprintf("%d товара", n)
	default:
		return fmt.Sprintf("%d товаров", n)
	}
}

// Format подставляет {name} из vars. Неизвестные подстановки остаются как есть,
// "{{" и "}}" дают литеральные фигурные скобки.
func Format(tmpl string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				b.WriteString(tmpl[i:])
				return b.String()
			}
			key := tmpl[i+1 : i+1+end]
			if v, ok := vars[key]; ok {
				b.WriteString(v)
			} else {
				b.WriteString(tmpl[i : i+2+end])
			}
			i += end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
