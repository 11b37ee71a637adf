// Package feed собирает YML-фиды групп городов и sitemap доменов и хранит их в объектном хранилище.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

const (
	contentTypeXML = "application/xml"
	feedFile       = "feed.xml"
	sitemapFile    = "sitemap.xml"
	lastModFile    = "sitemap.lastmod"

	buildFeed    = "feed"
	buildSitemap = "sitemap"
)

// Config задаёт реквизиты магазина и каталоги хранения.
type Config struct {
	ShopName   string
	Company    string
	BaseDomain string
	FeedsDir   string
	SitemapDir string
	// MediaURL — префикс адресов изображений: путь сайта ("/media/") или абсолютный адрес CDN.
	MediaURL string
}

func (c Config) withDefaults() Config {
	if c.FeedsDir == "" {
		c.FeedsDir = "feeds"
	}
	if c.SitemapDir == "" {
		c.SitemapDir = "sitemaps"
	}
	if c.MediaURL == "" {
		c.MediaURL = "/media/"
	}
	return c
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает постановку пересборок в очередь.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithMetrics подключает метрики сборок.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCollectors заменяет набор сборщиков sitemap.
func WithCollectors(collectors ...Collector) Option {
	return func(s *Service) { s.collectors = collectors }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service собирает и отдаёт фиды и sitemap.
type Service struct {
	cfg        Config
	catalog    domain.CatalogRepository
	prices     domain.PriceRepository
	cities     domain.CityRepository
	locator    pricing.Locator
	blobs      domain.BlobStore
	outbox     domain.OutboxRepository
	metrics    *metrics.StorefrontMetrics
	collectors []Collector
	now        func() time.Time
	logger     *log.Entry
}

// NewService создаёт сервис. По умолчанию sitemap собирается из категорий, товаров, брендов и страниц.
func NewService(
	cfg Config,
	catalog domain.CatalogRepository,
	prices domain.PriceRepository,
	cities domain.CityRepository,
	locator pricing.Locator,
	blobs domain.BlobStore,
	opts ...Option,
) *Service {
	s := &Service{
		cfg:     cfg.withDefaults(),
		catalog: catalog,
		prices:  prices,
		cities:  cities,
		locator: locator,
		blobs:   blobs,
		collectors: []Collector{
			CategoryCollector(catalog),
			ProductCollector(catalog),
			BrandCollector(catalog),
			PageCollector(catalog),
		},
		now:    time.Now,
		logger: log.WithField("component", "feed"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FeedKey возвращает ключ фида группы городов в хранилище.
func (s *Service) FeedKey(groupID int64) string {
	return path.Join(s.cfg.FeedsDir, strconv.FormatInt(groupID, 10), feedFile)
}

// SitemapKey возвращает ключ sitemap домена в хранилище.
func (s *Service) SitemapKey(cityDomain string) string {
	return path.Join(s.cfg.SitemapDir, cityDomain, sitemapFile)
}

func (s *Service) lastModKey(cityDomain string) string {
	return path.Join(s.cfg.SitemapDir, cityDomain, lastModFile)
}

// BuildFeed собирает YML группы городов: активные товары с ценой группы.
// Ссылки строятся от домена главного города группы.
func (s *Service) BuildFeed(ctx context.Context, groupID int64) ([]byte, error) {
	group, err := s.cities.GetCityGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get city group: %w", err)
	}
	base, err := s.groupBaseURL(ctx, group)
	if err != nil {
		return nil, err
	}

	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	active := categories[:0:0]
	for _, c := range categories {
		if c.Active {
			active = append(active, c)
		}
	}

	products, _, err := s.catalog.ListProducts(ctx, domain.ProductFilter{
		CityGroupID: group.ID,
		OnlyActive:  true,
		OnlyPriced:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	prices, err := s.prices.ListPrices(ctx, ids, group.ID)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	brands, err := s.catalog.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	vendors := make(map[int64]string, len(brands))
	for _, b := range brands {
		vendors[b.ID] = b.Name
	}

	offers := make([]Offer, 0, len(products))
	for _, p := range products {
		price, ok := prices[p.ID]
		if !ok {
			continue
		}
		offers = append(offers, Offer{
			Product: p,
			Price:   price,
			Vendor:  vendors[p.BrandID],
			URL:     productURL(base, p.Slug),
			Picture: s.pictureURL(base, p.Image),
		})
	}

	shop := Shop{Name: s.cfg.ShopName, Company: s.cfg.Company, URL: "https://" + s.cfg.BaseDomain + "/"}
	return RenderYML(shop, s.now(), active, offers)
}

func (s *Service) groupBaseURL(ctx context.Context, group domain.CityGroup) (string, error) {
	cities, err := s.cities.ListGroupCities(ctx, group.ID)
	if err != nil {
		return "", fmt.Errorf("list group cities: %w", err)
	}
	host := ""
	for _, c := range cities {
		if c.Domain == "" {
			continue
		}
		if c.ID == group.MainCityID {
			host = c.Domain
			break
		}
		if host == "" {
			host = c.Domain
		}
	}
	if host == "" {
		host = s.cfg.BaseDomain
	}
	return "https://" + host, nil
}

func (s *Service) pictureURL(base, image string) string {
	if image == "" {
		return ""
	}
	prefix := s.cfg.MediaURL
	if !strings.HasPrefix(prefix, "http://") && !strings.HasPrefix(prefix, "https://") {
		prefix = base + "/" + strings.TrimPrefix(prefix, "/")
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(image, "/")
}

// RebuildFeed собирает фид группы и сохраняет его в хранилище.
func (s *Service) RebuildFeed(ctx context.Context, groupID int64) error {
	logger := s.logger.WithField("city_group_id", groupID)
	body, err := s.BuildFeed(ctx, groupID)
	if err == nil {
		err = s.blobs.Put(ctx, s.FeedKey(groupID), contentTypeXML, bytes.NewReader(body))
	}
	s.metrics.RecordBuild(buildFeed, err == nil)
	if err != nil {
		logger.WithError(err).Error("feed build failed")
		return err
	}
	logger.WithField("bytes", len(body)).Info("feed rebuilt")
	return nil
}

// RebuildSitemap собирает sitemap домена города и сохраняет его вместе с общей датой изменения.
func (s *Service) RebuildSitemap(ctx context.Context, cityDomain string) (Sitemap, error) {
	cityDomain = domain.NormalizeDomain(cityDomain)
	logger := s.logger.WithField("city_domain", cityDomain)

	sm, err := s.rebuildSitemap(ctx, cityDomain)
	s.metrics.RecordBuild(buildSitemap, err == nil)
	if err != nil {
		logger.WithError(err).Error("sitemap build failed")
		return Sitemap{}, err
	}
	logger.WithField("bytes", len(sm.XML)).Info("sitemap rebuilt")
	return sm, nil
}

func (s *Service) rebuildSitemap(ctx context.Context, cityDomain string) (Sitemap, error) {
	city, err := s.cities.GetCityByDomain(ctx, cityDomain)
	if err != nil {
		return Sitemap{}, fmt.Errorf("get city: %w", err)
	}
	sm, err := BuildSitemap(ctx, "https://"+city.Domain, s.collectors)
	if err != nil {
		return Sitemap{}, err
	}
	if err := s.blobs.Put(ctx, s.SitemapKey(city.Domain), contentTypeXML, bytes.NewReader(sm.XML)); err != nil {
		return Sitemap{}, fmt.Errorf("store sitemap: %w", err)
	}
	stamp := ""
	if sm.HasLastMod {
		stamp = sm.LastMod.Format(time.RFC3339)
	}
	if err := s.blobs.Put(ctx, s.lastModKey(city.Domain), "text/plain", strings.NewReader(stamp)); err != nil {
		return Sitemap{}, fmt.Errorf("store sitemap lastmod: %w", err)
	}
	return sm, nil
}

// File — сохранённый документ, готовый к отдаче.
type File struct {
	Body io.ReadCloser
	Info domain.BlobInfo
	// LastModified заполнено, если известна дата изменения содержимого.
	LastModified time.Time
}

// OpenFeed отдаёт сохранённый фид группы города. Если фид ещё не собран, возвращается ErrFeedNotBuilt.
func (s *Service) OpenFeed(ctx context.Context, cityDomain string) (File, error) {
	loc, err := s.locator.Resolve(ctx, cityDomain)
	if err != nil {
		return File{}, fmt.Errorf("resolve city: %w", err)
	}
	body, info, err := s.blobs.Get(ctx, s.FeedKey(loc.Group.ID))
	if errors.Is(err, domain.ErrBlobNotFound) {
		return File{}, domain.ErrFeedNotBuilt
	}
	if err != nil {
		return File{}, fmt.Errorf("open feed: %w", err)
	}
	return File{Body: body, Info: info}, nil
}

// OpenSitemap отдаёт сохранённый sitemap домена. Неизвестный домен даёт ErrCityNotFound,
// несобранный sitemap — ErrSitemapNotBuilt.
func (s *Service) OpenSitemap(ctx context.Context, cityDomain string) (File, error) {
	city, err := s.cities.GetCityByDomain(ctx, domain.NormalizeDomain(cityDomain))
	if err != nil {
		return File{}, err
	}
	body, info, err := s.blobs.Get(ctx, s.SitemapKey(city.Domain))
	if errors.Is(err, domain.ErrBlobNotFound) {
		return File{}, domain.ErrSitemapNotBuilt
	}
	if err != nil {
		return File{}, fmt.Errorf("open sitemap: %w", err)
	}
	return File{Body: body, Info: info, LastModified: s.sitemapLastMod(ctx, city.Domain)}, nil
}

func (s *Service) sitemapLastMod(ctx context.Context, cityDomain string) time.Time {
	body, _, err := s.blobs.Get(ctx, s.lastModKey(cityDomain))
	if err != nil {
		return time.Time{}
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, 64))
	if err != nil {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}
	}
	return ts
}

// EnqueueFeed ставит пересборку фида группы в очередь outbox.
func (s *Service) EnqueueFeed(ctx context.Context, groupID int64) error {
	return s.enqueue(ctx, domain.EventFeedRebuild, domain.AggregateCityGroup, strconv.FormatInt(groupID, 10),
		domain.FeedJob{CityGroupID: groupID})
}

// EnqueueSitemap ставит пересборку sitemap домена в очередь outbox.
func (s *Service) EnqueueSitemap(ctx context.Context, cityDomain string) error {
	cityDomain = domain.NormalizeDomain(cityDomain)
	return s.enqueue(ctx, domain.EventSitemapRebuild, domain.AggregateCity, cityDomain,
		domain.SitemapJob{Domain: cityDomain})
}

// EnqueueAll ставит в очередь фиды всех групп и sitemap всех доменов. Возвращает число задач.
func (s *Service) EnqueueAll(ctx context.Context) (int, error) {
	groups, err := s.cities.ListCityGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("list city groups: %w", err)
	}
	cities, err := s.cities.ListCities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cities: %w", err)
	}

	queued := 0
	for _, g := range groups {
		if err := s.EnqueueFeed(ctx, g.ID); err != nil {
			return queued, err
		}
		queued++
	}
	for _, c := range cities {
		if c.Domain == "" {
			continue
		}
		if err := s.EnqueueSitemap(ctx, c.Domain); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func (s *Service) enqueue(ctx context.Context, eventType, aggregateType, aggregateID string, job any) error {
	if s.outbox == nil {
		return errors.New("feed outbox is not configured")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal %s job: %w", eventType, err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s job: %w", eventType, err)
	}
	return nil
}

// Publish выполняет задачи feed.rebuild и sitemap.rebuild из очереди outbox.
// Задачи для удалённых групп и городов отбрасываются, сбои сборки повторяются очередью.
func (s *Service) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	switch msg.EventType {
	case domain.EventFeedRebuild:
		var job domain.FeedJob
		if err = json.Unmarshal(msg.Payload, &job); err == nil {
			err = s.RebuildFeed(ctx, job.CityGroupID)
		}
	case domain.EventSitemapRebuild:
		var job domain.SitemapJob
		if err = json.Unmarshal(msg.Payload, &job); err == nil {
			_, err = s.RebuildSitemap(ctx, job.Domain)
		}
	default:
		s.logger.WithField("event_type", msg.EventType).Warn("unexpected event for feed builder")
		return nil
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		s.logger.WithError(err).WithField("message_id", msg.ID).Error("malformed build job dropped")
		return nil
	case errors.Is(err, domain.ErrCityGroupNotFound), errors.Is(err, domain.ErrCityNotFound):
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("build job for missing target dropped")
		return nil
	default:
		return err
	}
}
