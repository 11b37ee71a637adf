package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// StorefrontMetrics содержит метрики витрины: заказы, корзина, коды подтверждения, CRM, импорт, фиды.
// Методы безопасны для nil-получателя, чтобы сервисы могли работать без метрик.
type StorefrontMetrics struct {
	// Заказы
	ordersPlaced      prometheus.Counter
	ordersFailed      *prometheus.CounterVec
	placementDuration prometheus.Histogram
	activePlacements  prometheus.Gauge

	cartMutations     *prometheus.CounterVec
	confirmationSends *prometheus.CounterVec
	crmDeliveries     *prometheus.CounterVec
	importRows        *prometheus.CounterVec
	builds            *prometheus.CounterVec

	timelineEvents prometheus.Counter

	// Ключи идемпотентности оформления заказа
	idempotencySweeps  *prometheus.CounterVec
	idempotencyExpired prometheus.Counter

	httpRequests *prometheus.CounterVec
}

// NewStorefrontMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewStorefrontMetrics() *StorefrontMetrics {
	return NewStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация переиспользует уже существующие коллекторы.
func NewStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_failed_total",
			Help: "Total number of rejected order placements by reason",
		}, []string{"reason"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_placement_duration_seconds",
			Help:    "Duration of order placement transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		activePlacements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_order_placements",
			Help: "Number of order placements in progress",
		}),
		cartMutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Total number of cart mutations by operation",
		}, []string{"operation"}),
		confirmationSends: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_confirmation_sends_total",
			Help: "Confirmation code sends by flow and result",
		}, []string{"flow", "result"}),
		crmDeliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_crm_deliveries_total",
			Help: "CRM calls by operation and result",
		}, []string{"operation", "result"}),
		importRows: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_import_rows_total",
			Help: "Imported file rows by outcome",
		}, []string{"outcome"}),
		builds: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_builds_total",
			Help: "Feed and sitemap builds by kind and result",
		}, []string{"kind", "result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of order timeline events recorded",
		}),
		idempotencySweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_sweeps_total",
			Help: "Sweeps of expired order placement keys by result",
		}, []string{"result"}),
		idempotencyExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_keys_expired_total",
			Help: "Total number of expired order placement keys removed",
		}),
		httpRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "HTTP API requests by route pattern, method and status code",
		}, []string{"route", "method", "code"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// PlacementStarted увеличивает число оформлений в процессе.
func (m *StorefrontMetrics) PlacementStarted() {
	if m == nil {
		return
	}
	m.activePlacements.Inc()
}

// PlacementFinished уменьшает число оформлений в процессе.
func (m *StorefrontMetrics) PlacementFinished() {
	if m == nil {
		return
	}
	m.activePlacements.Dec()
}

// RecordOrderPlaced учитывает успешный заказ и длительность транзакции.
func (m *StorefrontMetrics) RecordOrderPlaced(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.placementDuration.Observe(duration.Seconds())
}

// RecordOrderFailed учитывает отказ в оформлении (empty_cart, unavailable, unpriced, error).
func (m *StorefrontMetrics) RecordOrderFailed(reason string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(reason).Inc()
}

// RecordCartMutation учитывает изменение корзины.
func (m *StorefrontMetrics) RecordCartMutation(operation string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(operation).Inc()
}

// RecordConfirmationSend учитывает попытку отправки кода.
func (m *StorefrontMetrics) RecordConfirmationSend(flow, result string) {
	if m == nil {
		return
	}
	m.confirmationSends.WithLabelValues(flow, result).Inc()
}

// RecordCRMDelivery учитывает вызов CRM.
func (m *StorefrontMetrics) RecordCRMDelivery(operation string, ok bool) {
	if m == nil {
		return
	}
	m.crmDeliveries.WithLabelValues(operation, result(ok)).Inc()
}

// RecordImportRow учитывает обработанную строку файла импорта.
func (m *StorefrontMetrics) RecordImportRow(outcome string) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(outcome).Inc()
}

// RecordBuild учитывает сборку фида или sitemap.
func (m *StorefrontMetrics) RecordBuild(kind string, ok bool) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(kind, result(ok)).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *StorefrontMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordIdempotencySweep учитывает проход очистки ключей и число удалённых записей.
func (m *StorefrontMetrics) RecordIdempotencySweep(removed int, ok bool) {
	if m == nil {
		return
	}
	m.idempotencySweeps.WithLabelValues(result(ok)).Inc()
	if removed > 0 {
		m.idempotencyExpired.Add(float64(removed))
	}
}

// RecordHTTPRequest учитывает запрос к HTTP API. route — шаблон маршрута, не сырой путь.
func (m *StorefrontMetrics) RecordHTTPRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
