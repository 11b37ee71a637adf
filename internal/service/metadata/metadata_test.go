package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const moskva = "moskva.example.com"

type fixture struct {
	formatter *Formatter
	catalog   domain.CatalogRepository
	prices    domain.PriceRepository
	metas     domain.MetaRepository
	group     domain.CityGroup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	resolver := geo.NewResolver(memory.NewCityRepository(store), geo.Config{})
	group, err := resolver.SaveCityGroup(ctx, domain.CityGroup{Name: "Центр"})
	require.NoError(t, err)
	_, err = resolver.SaveCity(ctx, domain.City{Name: "Москва", Domain: moskva, GroupID: group.ID})
	require.NoError(t, err)

	f := &fixture{
		catalog: memory.NewCatalogRepository(store),
		prices:  memory.NewPriceRepository(store),
		metas:   memory.NewMetaRepository(store),
		group:   group,
	}
	f.formatter = NewFormatter(f.catalog, f.metas, resolver)
	return f
}

func (f *fixture) saveMeta(t *testing.T, meta domain.OpenGraphMeta) {
	t.Helper()
	_, err := f.metas.SaveMeta(context.Background(), meta)
	require.NoError(t, err)
}

func (f *fixture) category(t *testing.T) domain.Category {
	t.Helper()
	c, err := f.catalog.CreateCategory(context.Background(), domain.Category{
		Name: "Дрели", Slug: "dreli", Active: true, Visible: true,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) product(t *testing.T, slug string, categoryID int64, price string) domain.Product {
	t.Helper()
	ctx := context.Background()
	p, err := f.catalog.CreateProduct(ctx, domain.Product{
		Article: slug, Title: "Дрель " + slug, Slug: slug, CategoryID: categoryID, Active: true,
	})
	require.NoError(t, err)
	if price != "" {
		_, err = f.prices.UpsertPrice(ctx, p.ID, f.group.ID, decimal.RequireFromString(price))
		require.NoError(t, err)
	}
	return p
}

func TestCorrectEnding(t *testing.T) {
	cases := map[int]string{
		0:   "0 товаров",
		1:   "1 товар",
		2:   "2 товара",
		4:   "4 товара",
		5:   "5 товаров",
		11:  "11 товаров",
		12:  "12 товаров",
		14:  "14 товаров",
		21:  "21 товар",
		22:  "22 товара",
		111: "111 товаров",
		112: "112 товаров",
		123: "123 товара",
	}
	for n, want := range cases {
		require.Equal(t, want, CorrectEnding(n), "n=%d", n)
	}
}

func TestFormatPrice(t *testing.T) {
	require.Equal(t, "--", FormatPrice(decimal.NullDecimal{}))
	require.Equal(t, "1499", FormatPrice(decimal.NewNullDecimal(decimal.RequireFromString("1499.99"))))
	require.Equal(t, "100", FormatPrice(decimal.NewNullDecimal(decimal.RequireFromString("100"))))
}

func TestFormat(t *testing.T) {
	vars := map[string]string{"object_name": "Дрель", "price": "100"}

	require.Equal(t, "Дрель от 100 руб.", Format("{object_name} от {price} руб.", vars))
	require.Equal(t, "{unknown} Дрель", Format("{unknown} {object_name}", vars))
	require.Equal(t, "{object_name}", Format("{{object_name}}", vars))
	require.Equal(t, "хвост {без конца", Format("хвост {без конца", vars))
}

func TestRender_CategoryDefaultTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cat := f.category(t)
	f.product(t, "a", cat.ID, "1500.70")
	f.product(t, "b", cat.ID, "990.10")
	f.product(t, "c", cat.ID, "")

	f.saveMeta(t, domain.OpenGraphMeta{
		OwnerKind:   domain.OwnerCategory,
		Title:       "{object_name} в {c_loct}",
		Description: "{count} от {price} руб. в регионе {city_group}",
		Keywords:    "{object_name}, {cg_gent}",
	})

	got, err := f.formatter.RenderBySlug(ctx, domain.OwnerCategory, "dreli", moskva)
	require.NoError(t, err)
	require.Equal(t, "Дрели в Москве", got.Title)
	require.Equal(t, "2 товара от 990 руб. в регионе Центр", got.Description)
	require.Equal(t, "Дрели, Центра", got.Keywords)
}

func TestRender_OverridePerField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cat := f.category(t)
	p := f.product(t, "x1", cat.ID, "2500")

	f.saveMeta(t, domain.OpenGraphMeta{
		OwnerKind:   domain.OwnerProduct,
		Title:       "{object_name} купить",
		Description: "Цена {price}",
		Keywords:    "дрель",
	})
	f.saveMeta(t, domain.OpenGraphMeta{
		OwnerKind: domain.OwnerProduct,
		OwnerID:   p.ID,
		Title:     "Особая {object_name} в {c_datv}",
	})

	got, err := f.formatter.RenderBySlug(ctx, domain.OwnerProduct, "x1", moskva)
	require.NoError(t, err)
	require.Equal(t, "Особая Дрель x1 в Москве", got.Title)
	require.Equal(t, "Цена 2500", got.Description)
	require.Equal(t, "дрель", got.Keywords)
}

func TestRender_UnknownDomainFallsBackToDefaultCity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t)
	f.saveMeta(t, domain.OpenGraphMeta{
		OwnerKind:   domain.OwnerCategory,
		Title:       "{object_name}",
		Description: "{price}",
		Keywords:    "{count}",
	})

	got, err := f.formatter.RenderBySlug(ctx, domain.OwnerCategory, "dreli", "nowhere.example.com")
	require.NoError(t, err)
	require.Equal(t, "Дрели", got.Title)
	require.Equal(t, MissingPrice, got.Description)
}

func TestRender_TemplateMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t)

	_, err := f.formatter.RenderBySlug(ctx, domain.OwnerCategory, "dreli", moskva)
	require.ErrorIs(t, err, domain.ErrTemplateMissing)

	f.saveMeta(t, domain.OpenGraphMeta{OwnerKind: domain.OwnerCategory, Title: "{object_name}", Description: "d"})
	_, err = f.formatter.RenderBySlug(ctx, domain.OwnerCategory, "dreli", moskva)
	var missing *domain.TemplateMissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, domain.MetaFieldKeywords, missing.Field)
}

func TestRender_PageAndBrand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.catalog.CreatePage(ctx, domain.Page{Title: "Доставка", Slug: "delivery"})
	require.NoError(t, err)
	_, err = f.catalog.CreateBrand(ctx, domain.Brand{Name: "Bosch", Slug: "bosch", Active: true})
	require.NoError(t, err)

	for _, kind := range []domain.OwnerKind{domain.OwnerPage, domain.OwnerBrand} {
		f.saveMeta(t, domain.OpenGraphMeta{OwnerKind: kind, Title: "{object_name} | {c_nomn}", Description: "{count}", Keywords: "k"})
	}

	page, err := f.formatter.RenderBySlug(ctx, domain.OwnerPage, "delivery", moskva)
	require.NoError(t, err)
	require.Equal(t, "Доставка | Москва", page.Title)
	require.Equal(t, "0 товаров", page.Description)

	brand, err := f.formatter.RenderBySlug(ctx, domain.OwnerBrand, "bosch", moskva)
	require.NoError(t, err)
	require.Equal(t, "Bosch | Москва", brand.Title)
}

func TestRender_UnknownOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.formatter.RenderBySlug(context.Background(), domain.OwnerProduct, "missing", moskva)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
