package feed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/objectstore"
)

const moskva = "moskva.example.com"

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	catalog domain.CatalogRepository
	prices  domain.PriceRepository
	outbox  *memory.OutboxRepository
	group   domain.CityGroup
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	cities := memory.NewCityRepository(store)
	resolver := geo.NewResolver(cities, geo.Config{DefaultCityName: "Москва", BaseDomain: "example.com"})
	group, err := resolver.SaveCityGroup(ctx, domain.CityGroup{Name: "Moscow"})
	require.NoError(t, err)
	city, err := resolver.SaveCity(ctx, domain.City{Name: "Москва", Domain: moskva, GroupID: group.ID})
	require.NoError(t, err)
	group.MainCityID = city.ID
	group, err = resolver.SaveCityGroup(ctx, group)
	require.NoError(t, err)

	f := &fixture{
		catalog: memory.NewCatalogRepository(store),
		prices:  memory.NewPriceRepository(store),
		outbox:  memory.NewOutboxRepository(),
		group:   group,
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithOutbox(f.outbox)}, opts...)
	f.svc = NewService(Config{
		ShopName:   "Мегашоп",
		Company:    "ООО Мегашоп",
		BaseDomain: "example.com",
	}, f.catalog, f.prices, cities, resolver, objectstore.NewFSStore(t.TempDir()), opts...)
	return f
}

func (f *fixture) product(t *testing.T, article string, categoryID, brandID int64, prices ...string) domain.Product {
	t.Helper()
	ctx := context.Background()
	p, err := f.catalog.CreateProduct(ctx, domain.Product{
		Article: article, Title: "Дрель " + article, Slug: strings.ToLower(article),
		CategoryID: categoryID, BrandID: brandID, Active: true, Image: "products/" + article + ".jpg",
	})
	require.NoError(t, err)
	for _, price := range prices {
		_, err = f.prices.UpsertPrice(ctx, p.ID, f.group.ID, decimal.RequireFromString(price))
		require.NoError(t, err)
	}
	return p
}

type ymlDoc struct {
	Date string `xml:"date,attr"`
	Shop struct {
		Name       string `xml:"name"`
		URL        string `xml:"url"`
		Categories []struct {
			ID       int64  `xml:"id,attr"`
			ParentID int64  `xml:"parentId,attr"`
			Name     string `xml:",chardata"`
		} `xml:"categories>category"`
		Offers []struct {
			ID         int64  `xml:"id,attr"`
			Available  string `xml:"available,attr"`
			Name       string `xml:"name"`
			URL        string `xml:"url"`
			Price      string `xml:"price"`
			OldPrice   string `xml:"oldprice"`
			Currency   string `xml:"currencyId"`
			CategoryID int64  `xml:"categoryId"`
			Picture    string `xml:"picture"`
			Vendor     string `xml:"vendor"`
			VendorCode string `xml:"vendorCode"`
			Pickup     string `xml:"pickup"`
			Warranty   string `xml:"manufacturer_warranty"`
		} `xml:"offers>offer"`
	} `xml:"shop"`
}

func TestBuildFeed_Offers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.catalog.CreateCategory(ctx, domain.Category{Name: "Инструменты", Slug: "tools", Active: true, Visible: true})
	require.NoError(t, err)
	drills, err := f.catalog.CreateCategory(ctx, domain.Category{Name: "Дрели", Slug: "drills", ParentID: root.ID, Active: true, Visible: true})
	require.NoError(t, err)
	brand, err := f.catalog.CreateBrand(ctx, domain.Brand{Name: "Bosch", Slug: "bosch", Active: true})
	require.NoError(t, err)

	a := f.product(t, "A-1", drills.ID, brand.ID, "100", "120.5")
	f.product(t, "B-1", drills.ID, 0, "50")
	f.product(t, "C-1", drills.ID, 0)

	body, err := f.svc.BuildFeed(ctx, f.group.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), xml.Header))

	var doc ymlDoc
	require.NoError(t, xml.Unmarshal(body, &doc))
	require.Equal(t, "2026-03-14", doc.Date)
	require.Equal(t, "Мегашоп", doc.Shop.Name)
	require.Equal(t, "https://example.com/", doc.Shop.URL)
	require.Len(t, doc.Shop.Categories, 2)
	require.Equal(t, root.ID, doc.Shop.Categories[1].ParentID)

	require.Len(t, doc.Shop.Offers, 2, "unpriced product is excluded")
	byID := map[int64]int{}
	for i, o := range doc.Shop.Offers {
		byID[o.ID] = i
	}
	offer := doc.Shop.Offers[byID[a.ID]]
	require.Equal(t, "true", offer.Available)
	require.Equal(t, "https://"+moskva+"/products/a-1/", offer.URL)
	require.Equal(t, "120.50", offer.Price)
	require.Equal(t, "100.00", offer.OldPrice)
	require.Equal(t, "RUB", offer.Currency)
	require.Equal(t, drills.ID, offer.CategoryID)
	require.Equal(t, "https://"+moskva+"/media/products/A-1.jpg", offer.Picture)
	require.Equal(t, "Bosch", offer.Vendor)
	require.Equal(t, "A-1", offer.VendorCode)
	require.Equal(t, "true", offer.Pickup)
	require.Equal(t, "true", offer.Warranty)

	for _, o := range doc.Shop.Offers {
		if o.ID != a.ID {
			require.Equal(t, DefaultVendor, o.Vendor)
			require.Empty(t, o.OldPrice)
		}
	}
}

func TestFeed_RebuildThroughOutboxAndOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(t, "A-1", 0, 0, "10")

	_, err := f.svc.OpenFeed(ctx, moskva)
	require.ErrorIs(t, err, domain.ErrFeedNotBuilt)
	require.ErrorIs(t, err, domain.ErrNotFound)

	queued, err := f.svc.EnqueueAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, queued, "one feed and one sitemap")

	pending, err := f.outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, msg := range pending {
		require.NoError(t, f.svc.Publish(ctx, msg))
	}

	file, err := f.svc.OpenFeed(ctx, moskva)
	require.NoError(t, err)
	defer file.Body.Close()
	body, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "<vendorCode>A-1</vendorCode>")
	require.Equal(t, int64(len(body)), file.Info.Size)

	sm, err := f.svc.OpenSitemap(ctx, moskva)
	require.NoError(t, err)
	defer sm.Body.Close()
	require.True(t, sm.LastModified.IsZero(), "category, brand and page collectors expose no lastmod")
}

func TestPublish_DropsMalformedAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Publish(ctx, domain.OutboxMessage{EventType: domain.EventFeedRebuild, Payload: []byte("{")}))

	payload, err := json.Marshal(domain.FeedJob{CityGroupID: 999})
	require.NoError(t, err)
	require.NoError(t, f.svc.Publish(ctx, domain.OutboxMessage{EventType: domain.EventFeedRebuild, Payload: payload}))

	payload, err = json.Marshal(domain.SitemapJob{Domain: "nowhere.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Publish(ctx, domain.OutboxMessage{EventType: domain.EventSitemapRebuild, Payload: payload}))
}

func TestPublish_StorageFailureIsRetried(t *testing.T) {
	boom := errors.New("catalog down")
	f := newFixture(t, WithCollectors(CollectorFunc(func(context.Context, string) (Section, error) {
		return Section{}, boom
	})))

	payload, err := json.Marshal(domain.SitemapJob{Domain: moskva})
	require.NoError(t, err)
	err = f.svc.Publish(context.Background(), domain.OutboxMessage{EventType: domain.EventSitemapRebuild, Payload: payload})
	require.ErrorIs(t, err, boom)
}

func fixedSection(lastMod time.Time, locs ...string) Collector {
	return CollectorFunc(func(_ context.Context, baseURL string) (Section, error) {
		s := Section{LastMod: lastMod, HasLastMod: !lastMod.IsZero()}
		for _, loc := range locs {
			s.URLs = append(s.URLs, URL{Loc: baseURL + loc, LastMod: lastMod, ChangeFreq: "monthly", Priority: "0.5"})
		}
		return s, nil
	})
}

func TestBuildSitemap_LastModOnlyWhenEveryCollectorHasOne(t *testing.T) {
	ctx := context.Background()
	early := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 2, 3, 23, 30, 0, 0, time.UTC)

	sm, err := BuildSitemap(ctx, "https://a.example.com", []Collector{
		fixedSection(early, "/one/"),
		fixedSection(late, "/two/", "/three/"),
	})
	require.NoError(t, err)
	require.True(t, sm.HasLastMod)
	require.True(t, late.Equal(sm.LastMod))

	var doc struct {
		XMLName xml.Name
		URLs    []struct {
			Loc        string `xml:"loc"`
			LastMod    string `xml:"lastmod"`
			ChangeFreq string `xml:"changefreq"`
			Priority   string `xml:"priority"`
		} `xml:"url"`
	}
	require.NoError(t, xml.Unmarshal(sm.XML, &doc))
	require.Equal(t, "urlset", doc.XMLName.Local)
	require.Equal(t, sitemapNS, doc.XMLName.Space)
	require.Len(t, doc.URLs, 3)
	require.Equal(t, "https://a.example.com/one/", doc.URLs[0].Loc)
	require.Equal(t, "2026-01-02", doc.URLs[0].LastMod)
	require.Equal(t, "2026-02-03", doc.URLs[2].LastMod)

	sm, err = BuildSitemap(ctx, "https://a.example.com", []Collector{
		fixedSection(late, "/one/"),
		fixedSection(time.Time{}, "/two/"),
	})
	require.NoError(t, err)
	require.False(t, sm.HasLastMod)
	require.True(t, sm.LastMod.IsZero())
	require.Equal(t, 1, strings.Count(string(sm.XML), "<lastmod>"), "only the dated url carries lastmod")
}

func TestRebuildSitemap_ProductsCollector(t *testing.T) {
	f := newFixture(t)
	f.svc.collectors = []Collector{ProductCollector(f.catalog)}
	ctx := context.Background()
	f.product(t, "A-1", 0, 0)
	inactive := f.product(t, "B-1", 0, 0)
	inactive.Active = false
	_, err := f.catalog.UpdateProduct(ctx, inactive)
	require.NoError(t, err)

	sm, err := f.svc.RebuildSitemap(ctx, "HTTPS://Moskva.Example.com/")
	require.NoError(t, err)
	require.True(t, sm.HasLastMod)
	require.Contains(t, string(sm.XML), "<loc>https://"+moskva+"/products/a-1/</loc>")
	require.NotContains(t, string(sm.XML), "b-1")

	file, err := f.svc.OpenSitemap(ctx, moskva)
	require.NoError(t, err)
	defer file.Body.Close()
	require.True(t, sm.LastMod.Truncate(time.Second).Equal(file.LastModified))

	_, err = f.svc.OpenSitemap(ctx, "nowhere.example.com")
	require.ErrorIs(t, err, domain.ErrCityNotFound)
}
