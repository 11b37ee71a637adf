package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/storefront/internal/crm/bitrix"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/crm"
	"github.com/vladislavdragonenkov/storefront/internal/service/feed"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/objectstore"
)

const cityDomain = "moskva.shop.local"

// fakeBitrix имитирует REST-вебхуки Bitrix24.
type fakeBitrix struct {
	mu     sync.Mutex
	leads  []map[string]any
	status int
}

func (b *fakeBitrix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status >= http.StatusBadRequest {
		w.WriteHeader(b.status)
		_, _ = w.Write([]byte(`{"error":"INTERNAL"}`))
		return
	}
	switch r.URL.Path {
	case "/crm.lead.add.json":
		var lead map[string]any
		_ = json.NewDecoder(r.Body).Decode(&lead)
		b.leads = append(b.leads, lead)
		_, _ = w.Write([]byte(`{"result":` + strconv.Itoa(len(b.leads)) + `}`))
	case "/user.get.json":
		_, _ = w.Write([]byte(`{"result":[{"ID":"17"}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *fakeBitrix) setStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *fakeBitrix) leadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.leads)
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (p *capturePublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// OrderLifecycleTestSuite проверяет путь заказа: корзина, оформление, доставка в CRM,
// обновление статуса вебхуком и пересборку фидов через очередь outbox.
type OrderLifecycleTestSuite struct {
	suite.Suite

	ctx      context.Context
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	carts    *cart.Service
	placer   *order.Service
	feeds    *feed.Service
	webhooks *bitrix.Webhooks
	worker   *outbox.Worker
	dlq      *capturePublisher
	crm      *fakeBitrix
	crmSrv   *httptest.Server
	customer domain.User
	product  domain.Product
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	s.ctx = context.Background()
	store := memory.NewStore()
	cities := memory.NewCityRepository(store)
	catalog := memory.NewCatalogRepository(store)
	prices := memory.NewPriceRepository(store)
	users := memory.NewUserRepository(store)
	s.orders = memory.NewOrderRepository(store)
	s.timeline = memory.NewTimelineRepository()
	s.outbox = memory.NewOutboxRepository()

	resolver := geo.NewResolver(cities, geo.Config{BaseDomain: "shop.local"})
	group, err := resolver.SaveCityGroup(s.ctx, domain.CityGroup{Name: "Москва"})
	s.Require().NoError(err)
	_, err = resolver.SaveCity(s.ctx, domain.City{Name: "Москва", Domain: cityDomain, GroupID: group.ID})
	s.Require().NoError(err)

	category, err := catalog.CreateCategory(s.ctx, domain.Category{Name: "Инструменты", Slug: "tools", Active: true, Visible: true})
	s.Require().NoError(err)
	s.product, err = catalog.CreateProduct(s.ctx, domain.Product{
		Article:    "DRILL-1",
		Title:      "Дрель",
		Slug:       domain.MakeSlug("DRILL-1"),
		CategoryID: category.ID,
		Active:     true,
		Priority:   domain.DefaultProductPriority,
	})
	s.Require().NoError(err)
	_, err = prices.UpsertPrice(s.ctx, s.product.ID, group.ID, decimal.RequireFromString("2500.00"))
	s.Require().NoError(err)

	s.customer, err = users.CreateUser(s.ctx, domain.User{
		Username: "petr", FirstName: "Пётр", LastName: "Иванов", Phone: "+79990001122", Active: true, IsCustomer: true,
	})
	s.Require().NoError(err)

	pricingSvc := pricing.NewService(resolver, prices)
	s.carts = cart.NewService(memory.NewCartRepository(store), catalog, pricingSvc, nil)
	s.placer = order.NewService(store, s.orders, resolver,
		order.WithOutbox(s.outbox),
		order.WithTimeline(s.timeline),
		order.WithLogger(logger),
	)
	s.feeds = feed.NewService(feed.Config{ShopName: "Витрина", Company: "ООО Витрина", BaseDomain: "shop.local"},
		catalog, prices, cities, resolver, objectstore.NewFSStore(s.T().TempDir()),
		feed.WithOutbox(s.outbox),
	)

	s.crm = &fakeBitrix{}
	s.crmSrv = httptest.NewServer(s.crm)
	client := bitrix.NewClient(bitrix.Config{
		UserGetURL: s.crmSrv.URL,
		LeadAddURL: s.crmSrv.URL,
		Timeout:    time.Second,
	}, s.crmSrv.Client())
	dispatcher := crm.NewDispatcher(client, crm.Deps{
		Orders:   s.orders,
		Users:    users,
		Cities:   cities,
		Catalog:  catalog,
		Timeline: s.timeline,
	}, "manager@shop.local")

	s.webhooks = bitrix.NewWebhooks("portal-token")
	s.webhooks.Register("order", "status", crm.StatusWebhook(s.orders))

	router := outbox.NewRouter().
		Handle(domain.EventCRMOrderCreated, dispatcher).
		Handle(domain.EventFeedRebuild, s.feeds).
		Handle(domain.EventSitemapRebuild, s.feeds).
		Handle(domain.EventOrderPlaced, outbox.PublisherFunc(func(context.Context, domain.OutboxMessage) error { return nil }))
	s.dlq = &capturePublisher{}
	s.worker = outbox.NewWorker(s.outbox, router,
		outbox.WithLogger(logger),
		outbox.WithDLQPublisher(s.dlq),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(time.Millisecond),
	)
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.crmSrv.Close()
}

func (s *OrderLifecycleTestSuite) placeOrder() domain.Order {
	_, err := s.carts.BulkAdd(s.ctx, s.customer.ID, []domain.CartItemInput{{ProductID: s.product.ID, Quantity: 2}})
	s.Require().NoError(err)

	placed, err := s.placer.PlaceFromCart(s.ctx, s.customer.ID, domain.OrderDraft{
		Address:      "Тверская, 1",
		DeliveryType: domain.DeliveryTypeDelivery,
	}, cityDomain)
	s.Require().NoError(err)
	return placed
}

func (s *OrderLifecycleTestSuite) timelineTypes(orderID int64) []string {
	events, err := s.timeline.List(s.ctx, orderID)
	s.Require().NoError(err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func (s *OrderLifecycleTestSuite) TestPlaceOrder_DeliversLeadToCRM() {
	placed := s.placeOrder()

	s.Equal(domain.OrderStatusPending, placed.Status)
	s.True(decimal.RequireFromString("5000.00").Equal(placed.Total), placed.Total.String())

	count, err := s.carts.Count(s.ctx, s.customer.ID)
	s.Require().NoError(err)
	s.Zero(count, "cart must be emptied by placement")
	s.Len(s.outbox.AllPending(), 2, "crm job and order.placed event")

	s.worker.ProcessOnce(s.ctx)

	s.Empty(s.outbox.AllPending())
	s.Equal(1, s.crm.leadCount())
	s.Empty(s.dlq.messages)
	s.Equal([]string{domain.TimelineOrderPlaced, domain.TimelineCRMLeadCreated}, s.timelineTypes(placed.ID))

	fields, ok := s.crm.leads[0]["fields"].(map[string]any)
	s.Require().True(ok, "lead body: %v", s.crm.leads[0])
	s.Equal("Тверская, 1", fields["ADDRESS"])
	s.Equal("17", fields["ASSIGNED_BY_ID"])
}

func (s *OrderLifecycleTestSuite) TestCRMFailure_GoesToDeadLetterQueue() {
	s.crm.setStatus(http.StatusInternalServerError)
	placed := s.placeOrder()

	s.worker.ProcessOnce(s.ctx)

	s.Require().Len(s.dlq.messages, 1)
	s.Equal(domain.EventCRMOrderCreated, s.dlq.messages[0].EventType)
	s.Equal(strconv.FormatInt(placed.ID, 10), s.dlq.messages[0].AggregateID)
	s.Equal("failed", s.outbox.Status(s.dlq.messages[0].ID))
	s.Contains(s.timelineTypes(placed.ID), domain.TimelineCRMFailed)
	s.Zero(s.crm.leadCount())
}

func (s *OrderLifecycleTestSuite) TestStatusWebhook_UpdatesOrder() {
	placed := s.placeOrder()

	err := s.webhooks.Handle(s.ctx, url.Values{
		"auth[application_token]": {"portal-token"},
		"model":                   {"order"},
		"action":                  {"status"},
		"id":                      {strconv.FormatInt(placed.ID, 10)},
		"status":                  {"processing"},
	})
	s.Require().NoError(err)

	stored, err := s.orders.Get(s.ctx, placed.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusProcessing, stored.Status)

	err = s.webhooks.Handle(s.ctx, url.Values{
		"auth[application_token]": {"forged"},
		"model":                   {"order"},
		"action":                  {"status"},
		"id":                      {strconv.FormatInt(placed.ID, 10)},
		"status":                  {"delivered"},
	})
	s.ErrorIs(err, bitrix.ErrInvalidWebhookToken)
}

func (s *OrderLifecycleTestSuite) TestFeedRebuild_ThroughOutbox() {
	_, err := s.feeds.OpenFeed(s.ctx, cityDomain)
	s.ErrorIs(err, domain.ErrFeedNotBuilt)

	queued, err := s.feeds.EnqueueAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, queued, "one group feed and one sitemap")

	s.worker.ProcessOnce(s.ctx)
	s.Empty(s.outbox.AllPending())

	file, err := s.feeds.OpenFeed(s.ctx, cityDomain)
	s.Require().NoError(err)
	defer file.Body.Close()
	body, err := io.ReadAll(file.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "<vendorCode>DRILL-1</vendorCode>")
	s.Contains(string(body), "<price>2500.00</price>")

	sitemap, err := s.feeds.OpenSitemap(s.ctx, cityDomain)
	s.Require().NoError(err)
	_ = sitemap.Body.Close()
}

func TestOrderLifecycleSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OrderLifecycleTestSuite))
}
