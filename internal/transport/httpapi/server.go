// Package httpapi — HTTP API витрины: каталог, корзина, заказы, коды подтверждения,
// метаданные, фиды, импорт и входящие вебхуки CRM.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/confirm"
	"github.com/vladislavdragonenkov/storefront/internal/service/feed"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/importer"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// CatalogService — витринные запросы каталога.
type CatalogService interface {
	ListProducts(ctx context.Context, q catalog.Query) (catalog.Page, error)
	FrequentlyBought(ctx context.Context, productID int64, cityDomain string) ([]pricing.Priced, error)
	Similar(ctx context.Context, productID int64, cityDomain string) ([]pricing.Priced, error)
}

// CartService — операции корзины.
type CartService interface {
	BulkAdd(ctx context.Context, userID int64, items []domain.CartItemInput) ([]domain.CartLine, error)
	UpdateQuantity(ctx context.Context, userID, productID int64, qty int) (domain.CartLine, error)
	Delete(ctx context.Context, userID, productID int64) error
	DeleteAll(ctx context.Context, userID int64) (int, error)
	DeleteSome(ctx context.Context, userID int64, lineIDs []int64) (int, error)
	Count(ctx context.Context, userID int64) (int, error)
	List(ctx context.Context, userID int64, cityDomain string) ([]cart.LineView, error)
}

// OrderService — оформление и просмотр заказов.
type OrderService interface {
	PlaceFromCart(ctx context.Context, userID int64, draft domain.OrderDraft, cityDomain string) (domain.Order, error)
	PlaceFromSelection(ctx context.Context, userID int64, lineIDs []int64, draft domain.OrderDraft, cityDomain string) (domain.Order, error)
	Get(ctx context.Context, userID int64, staff bool, orderID int64) (domain.Order, error)
	List(ctx context.Context, userID int64) ([]domain.Order, error)
	ListActive(ctx context.Context, userID int64) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
	Timeline(ctx context.Context, userID int64, staff bool, orderID int64) ([]domain.TimelineEvent, error)
}

// ConfirmService — отправка и проверка кодов подтверждения.
type ConfirmService interface {
	Send(ctx context.Context, req confirm.SendRequest) (domain.CodeEntry, error)
	Verify(ctx context.Context, req confirm.VerifyRequest) (confirm.VerifyResult, error)
}

// MetadataRenderer форматирует SEO-метаданные.
type MetadataRenderer interface {
	RenderBySlug(ctx context.Context, kind domain.OwnerKind, slug, cityDomain string) (domain.RenderedMeta, error)
}

// FeedService отдаёт собранные фиды и sitemap и ставит их пересборку в очередь.
type FeedService interface {
	OpenFeed(ctx context.Context, cityDomain string) (feed.File, error)
	OpenSitemap(ctx context.Context, cityDomain string) (feed.File, error)
	EnqueueAll(ctx context.Context) (int, error)
	EnqueueFeed(ctx context.Context, groupID int64) error
	EnqueueSitemap(ctx context.Context, cityDomain string) error
}

// ImportService — управление настройками и задачами импорта.
type ImportService interface {
	CreateSetting(ctx context.Context, setting domain.ImportSetting) (domain.ImportSetting, error)
	UpdateSetting(ctx context.Context, setting domain.ImportSetting) (domain.ImportSetting, error)
	GetSetting(ctx context.Context, id int64) (domain.ImportSetting, error)
	ListSettings(ctx context.Context) ([]domain.ImportSetting, error)
	DeleteSetting(ctx context.Context, id int64) error
	GetTask(ctx context.Context, id int64) (domain.ImportTask, error)
	ListTasks(ctx context.Context, limit, offset int) ([]domain.ImportTask, int, error)
	DeleteTask(ctx context.Context, id int64) error
	Columns(ctx context.Context, taskID int64) ([]string, error)
	StartImport(ctx context.Context, settingID, userID int64, upload importer.Upload) (domain.ImportTask, error)
}

// WebhookReceiver обрабатывает входящий вебхук конкретной CRM.
type WebhookReceiver interface {
	Handle(ctx context.Context, form url.Values) error
}

// Deps — зависимости HTTP API. Nil-сервис отключает соответствующую группу маршрутов.
type Deps struct {
	Tokens      TokenParser
	Catalog     CatalogService
	Cart        CartService
	Orders      OrderService
	Confirm     ConfirmService
	Metadata    MetadataRenderer
	Feeds       FeedService
	Imports     ImportService
	Search      domain.SearchIndexer
	Webhooks    map[string]WebhookReceiver
	Idempotency *idempotency.Guard
	Metrics     *metrics.StorefrontMetrics
	// RequestTimeout ограничивает обработку одного запроса; 0 отключает ограничение.
	RequestTimeout time.Duration
}

type server struct {
	Deps
	validate *validator.Validate
	logger   *log.Entry
}

// NewRouter собирает chi-роутер API.
func NewRouter(deps Deps) http.Handler {
	s := &server{
		Deps:     deps,
		validate: newValidator(),
		logger:   log.WithField("component", "httpapi"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(deps.Metrics))
	r.Use(middleware.Recoverer)
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}
	r.Use(authenticate(deps.Tokens))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, detailNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Метод не разрешён")
	})

	if s.Catalog != nil {
		r.Get("/products", s.listProducts)
		r.Get("/products/{id}/frequently_bought", s.frequentlyBought)
		r.Get("/products/{id}/similar", s.similarProducts)
	}
	if s.Metadata != nil {
		r.Get("/metadata", s.renderMetadata)
	}
	if s.Feeds != nil {
		r.Get("/feeds", s.serveFeed)
		r.Get("/sitemap.xml", s.serveSitemap)
	}
	if s.Confirm != nil {
		r.Post("/send-code", s.sendCode)
		r.Post("/verify-code", s.verifyCode)
	}
	if len(s.Webhooks) > 0 {
		r.Post("/crm/{crm_name}/webhook", s.crmWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		if s.Cart != nil {
			r.Get("/cart", s.listCart)
			r.Post("/cart", s.addToCart)
			r.Delete("/cart", s.clearCart)
			r.Post("/cart/delete-some", s.deleteSomeFromCart)
			r.Patch("/cart/{product_id}", s.updateCartLine)
			r.Delete("/cart/{product_id}", s.deleteCartLine)
			r.Get("/cart-count", s.cartCount)
		}
		if s.Orders != nil {
			r.With(s.idempotent).Post("/orders", s.placeOrder)
			r.With(s.idempotent).Post("/orders/order-selected", s.placeSelectedOrder)
			r.Get("/orders", s.listOrders)
			r.Get("/orders/active-orders", s.activeOrders)
			r.Get("/orders/{id}", s.getOrder)
			r.Get("/orders/{id}/timeline", s.orderTimeline)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(requireStaff)
		if s.Orders != nil {
			r.Patch("/orders/{id}/status", s.updateOrderStatus)
		}
		if s.Imports != nil {
			r.Get("/import-settings", s.listImportSettings)
			r.Post("/import-settings", s.createImportSetting)
			r.Post("/import-settings/start-import", s.startImport)
			r.Get("/import-settings/{id}", s.getImportSetting)
			r.Put("/import-settings/{id}", s.updateImportSetting)
			r.Delete("/import-settings/{id}", s.deleteImportSetting)
			r.Get("/import-tasks", s.listImportTasks)
			r.Get("/import-tasks/{id}", s.getImportTask)
			r.Delete("/import-tasks/{id}", s.deleteImportTask)
			r.Get("/import-tasks/{id}/columns", s.importTaskColumns)
		}
		if s.Search != nil {
			r.Post("/admin/search/reindex", s.reindexSearch)
		}
		if s.Feeds != nil {
			r.Post("/admin/feeds/rebuild", s.rebuildFeeds)
			r.Post("/admin/feeds/{city_group_id}/rebuild", s.rebuildGroupFeed)
			r.Post("/admin/sitemap/rebuild", s.rebuildSitemap)
		}
	})

	return r
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// cityDomain берёт домен из city_domain, иначе из Host запроса.
func cityDomain(r *http.Request) string {
	if d := r.URL.Query().Get("city_domain"); d != "" {
		return domain.NormalizeDomain(d)
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return domain.NormalizeDomain(host)
}
