package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// URL — запись sitemap.
type URL struct {
	Loc        string
	LastMod    time.Time
	ChangeFreq string
	Priority   string
}

// Section — вклад одного сборщика. HasLastMod сообщает, что сборщик знает дату последнего изменения.
type Section struct {
	URLs       []URL
	LastMod    time.Time
	HasLastMod bool
}

// Collector перечисляет адреса одного вида сущностей для базового адреса домена.
type Collector interface {
	Collect(ctx context.Context, baseURL string) (Section, error)
}

// CollectorFunc позволяет использовать функцию как Collector.
type CollectorFunc func(ctx context.Context, baseURL string) (Section, error)

// Collect вызывает f.
func (f CollectorFunc) Collect(ctx context.Context, baseURL string) (Section, error) {
	return f(ctx, baseURL)
}

// Sitemap — собранный документ и общая дата изменения.
type Sitemap struct {
	XML        []byte
	LastMod    time.Time
	HasLastMod bool
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []urlElement `xml:"url"`
}

type urlElement struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// BuildSitemap объединяет адреса сборщиков. Общий lastmod — максимум по сборщикам
// и выставляется, только если его сообщил каждый сборщик.
func BuildSitemap(ctx context.Context, baseURL string, collectors []Collector) (Sitemap, error) {
	var (
		out        Sitemap
		doc        = urlSet{XMLNS: sitemapNS}
		allLastMod = len(collectors) > 0
	)
	for _, c := range collectors {
		section, err := c.Collect(ctx, baseURL)
		if err != nil {
			return Sitemap{}, fmt.Errorf("collect sitemap urls: %w", err)
		}
		for _, u := range section.URLs {
			el := urlElement{Loc: u.Loc, ChangeFreq: u.ChangeFreq, Priority: u.Priority}
			if !u.LastMod.IsZero() {
				el.LastMod = u.LastMod.UTC().Format("2006-01-02")
			}
			doc.URLs = append(doc.URLs, el)
		}
		if !section.HasLastMod {
			allLastMod = false
			continue
		}
		if section.LastMod.After(out.LastMod) {
			out.LastMod = section.LastMod
		}
	}
	if allLastMod {
		out.HasLastMod = true
		out.LastMod = out.LastMod.UTC()
	} else {
		out.LastMod = time.Time{}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return Sitemap{}, fmt.Errorf("encode sitemap: %w", err)
	}
	out.XML = buf.Bytes()
	return out, nil
}

// ProductCollector перечисляет активные товары; lastmod — дата обновления товара.
func ProductCollector(catalog domain.CatalogRepository) Collector {
	return CollectorFunc(func(ctx context.Context, baseURL string) (Section, error) {
		products, _, err := catalog.ListProducts(ctx, domain.ProductFilter{OnlyActive: true})
		if err != nil {
			return Section{}, fmt.Errorf("list products: %w", err)
		}
		var section Section
		for _, p := range products {
			section.URLs = append(section.URLs, URL{
				Loc:        productURL(baseURL, p.Slug),
				LastMod:    p.UpdatedAt,
				ChangeFreq: "always",
				Priority:   "0.8",
			})
			if p.UpdatedAt.After(section.LastMod) {
				section.LastMod = p.UpdatedAt
				section.HasLastMod = true
			}
		}
		return section, nil
	})
}

// CategoryCollector перечисляет видимые активные категории.
func CategoryCollector(catalog domain.CatalogRepository) Collector {
	return CollectorFunc(func(ctx context.Context, baseURL string) (Section, error) {
		categories, err := catalog.ListCategories(ctx)
		if err != nil {
			return Section{}, fmt.Errorf("list categories: %w", err)
		}
		var section Section
		for _, c := range categories {
			if !c.Active || !c.Visible {
				continue
			}
			section.URLs = append(section.URLs, URL{
				Loc:        baseURL + "/catalog/" + c.Slug + "/",
				ChangeFreq: "monthly",
				Priority:   "0.9",
			})
		}
		return section, nil
	})
}

// BrandCollector перечисляет активные бренды.
func BrandCollector(catalog domain.CatalogRepository) Collector {
	return CollectorFunc(func(ctx context.Context, baseURL string) (Section, error) {
		brands, err := catalog.ListBrands(ctx)
		if err != nil {
			return Section{}, fmt.Errorf("list brands: %w", err)
		}
		var section Section
		for _, b := range brands {
			if !b.Active {
				continue
			}
			section.URLs = append(section.URLs, URL{
				Loc:        baseURL + "/brands/" + b.Slug + "/",
				ChangeFreq: "monthly",
				Priority:   "0.7",
			})
		}
		return section, nil
	})
}

// PageCollector перечисляет статические страницы.
func PageCollector(catalog domain.CatalogRepository) Collector {
	return CollectorFunc(func(ctx context.Context, baseURL string) (Section, error) {
		pages, err := catalog.ListPages(ctx)
		if err != nil {
			return Section{}, fmt.Errorf("list pages: %w", err)
		}
		var section Section
		for _, p := range pages {
			section.URLs = append(section.URLs, URL{
				Loc:        baseURL + "/" + p.Slug + "/",
				ChangeFreq: "monthly",
				Priority:   "0.5",
			})
		}
		return section, nil
	})
}

func productURL(baseURL, slug string) string {
	return baseURL + "/products/" + slug + "/"
}
