package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/crm/bitrix"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/media"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/confirm"
	"github.com/vladislavdragonenkov/storefront/internal/service/crm"
	"github.com/vladislavdragonenkov/storefront/internal/service/feed"
	"github.com/vladislavdragonenkov/storefront/internal/service/geo"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/importer"
	"github.com/vladislavdragonenkov/storefront/internal/service/metadata"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, служебный gRPC, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "storefront",
		Version:     version.GetVersion(),
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	codes, codeChecker, closeCodes, err := initCodeCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeCodes != nil {
		defer func() { _ = closeCodes() }()
	}
	blobs, err := initBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.NewStorefrontMetrics()
	httpClient := newHTTPClient()

	resolver := geo.NewResolver(deps.cities, geo.Config{
		DefaultCityName:  cfg.DefaultCityName,
		DefaultGroupName: cfg.DefaultCityGroupName,
		BaseDomain:       cfg.BaseDomain,
		Strict:           cfg.StrictDefaultCity,
	})
	pricingSvc := pricing.NewService(resolver, deps.prices)
	catalogSvc := catalog.NewService(deps.catalog, resolver, pricingSvc)
	cartSvc := cart.NewService(deps.carts, deps.catalog, pricingSvc, m)
	orderSvc := order.NewService(deps.uow, deps.orders, resolver,
		order.WithOutbox(deps.outboxRepo),
		order.WithTimeline(deps.timelineRepo),
		order.WithMetrics(m),
		order.WithLogger(logger.WithField("component", "order")),
	)

	tokens, err := auth.NewManager(auth.Config{
		Secret:     jwtSecret(cfg, logger),
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
		Issuer:     cfg.JWTIssuer,
	})
	if err != nil {
		return err
	}
	senders, err := buildSenders(cfg, httpClient, logger)
	if err != nil {
		return err
	}
	confirmOpts := []confirm.Option{confirm.WithMetrics(m)}
	for flow, sender := range senders {
		confirmOpts = append(confirmOpts, confirm.WithSender(flow, sender))
	}
	confirmSvc := confirm.NewService(codes, deps.users, tokens, confirm.Config{
		CodeLength:         cfg.LoginCodeLength,
		RegisterCodeLength: cfg.RegisterCodeLength,
		ThrottleWindow:     cfg.CodeThrottleWindow,
		CacheLifetime:      cfg.CodeCacheLifetime,
	}, confirmOpts...)

	feedSvc := feed.NewService(feed.Config{
		ShopName:   cfg.ShopName,
		Company:    cfg.ShopCompany,
		BaseDomain: cfg.BaseDomain,
		FeedsDir:   cfg.FeedsDir,
		SitemapDir: cfg.SitemapDir,
		MediaURL:   cfg.MediaURL,
	}, deps.catalog, deps.prices, deps.cities, resolver, blobs,
		feed.WithOutbox(deps.outboxRepo),
		feed.WithMetrics(m),
	)

	engineOpts := []importer.Option{
		importer.WithImages(media.NewLibrary(blobs).WithImportRoot(cfg.ImageImportRoot)),
		importer.WithTreeRebuilder(catalogSvc),
		importer.WithOutbox(deps.outboxRepo),
		importer.WithMetrics(m),
	}
	var searchIndexer domain.SearchIndexer
	indexer, err := newSearchIndexer(cfg, deps.catalog)
	switch {
	case err != nil:
		logger.WithError(err).Warn("search indexer is disabled")
	case indexer != nil:
		searchIndexer = indexer
		engineOpts = append(engineOpts, importer.WithIndexer(indexer))
	}
	engine := importer.NewEngine(deps.importStore, deps.importTasks, blobs, engineOpts...)

	var crmJobs domain.OutboxPublisher = discardCRM(logger.WithField("component", "crm"))
	if cfg.bitrixConfigured() {
		crmJobs = crm.NewDispatcher(newCRMClient(cfg, httpClient), crm.Deps{
			Orders:   deps.orders,
			Users:    deps.users,
			Cities:   deps.cities,
			Catalog:  deps.catalog,
			Timeline: deps.timelineRepo,
			Metrics:  m,
		}, cfg.LeadAssigneeEmail)
	}
	webhooks := bitrix.NewWebhooks(cfg.BitrixWebhookToken)
	webhooks.Register("order", "status", crm.StatusWebhook(deps.orders))

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Warn("continuing without kafka: events are handled locally")
	}
	defer closeKafkaProducer(producer, logger)

	handlers := jobHandlers{
		CRM:          crmJobs,
		Importer:     engine,
		Feeds:        feedSvc,
		EnqueueFeeds: feedSvc.EnqueueAll,
	}
	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer != nil {
		handlers.Events = kafka.NewOutboxPublisher(producer, "")
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)))
	}
	worker := outbox.NewWorker(deps.outboxRepo, newJobRouter(handlers, logger), workerOpts...)
	sweeper := idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.WithSweepLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithSweepInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithSweepBatch(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithSweepMetrics(m),
	)

	apiDeps := httpapi.Deps{
		Tokens:         tokens,
		Catalog:        catalogSvc,
		Cart:           cartSvc,
		Orders:         orderSvc,
		Confirm:        confirmSvc,
		Metadata:       metadata.NewFormatter(deps.catalog, deps.metas, resolver),
		Feeds:          feedSvc,
		Imports:        importer.NewService(deps.importTasks, blobs, deps.outboxRepo),
		Webhooks:       map[string]httpapi.WebhookReceiver{"bitrix": webhooks},
		Idempotency:    idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL),
		Metrics:        m,
		RequestTimeout: cfg.HTTPRequestTimeout,
	}
	if searchIndexer != nil {
		apiDeps.Search = searchIndexer
	}
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(apiDeps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if codeChecker != nil {
		healthHandler.RegisterChecker("code_cache", codeChecker)
	}
	if cfg.OutboxMaxPending > 0 {
		healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	if producer != nil {
		consumer, err := startCatalogConsumer(gctx, cfg, producer, feedSvc.EnqueueAll, logger)
		if err != nil {
			logger.WithError(err).Warn("catalog consumer is disabled")
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.WithError(err).Warn("catalog consumer stop failed")
				}
			}()
		}
	}

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		runFeedRefresher(gctx, cfg.FeedRefreshInterval, feedSvc.EnqueueAll, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// jwtSecret возвращает секрет из конфигурации или случайный секрет процесса.
func jwtSecret(cfg Config, logger *log.Entry) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	logger.Warn("STOREFRONT_JWT_SECRET is empty, tokens will not survive a restart")
	return uuid.NewString() + uuid.NewString()
}

func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	})
}

// runFeedRefresher периодически ставит в очередь все фиды и sitemap. interval <= 0 отключает обновление.
func runFeedRefresher(ctx context.Context, interval time.Duration, enqueueAll func(ctx context.Context) (int, error), logger *log.Entry) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued, err := enqueueAll(ctx)
			if err != nil {
				logger.WithError(err).Warn("scheduled feed refresh failed")
				continue
			}
			logger.WithField("jobs", queued).Info("scheduled feed refresh queued")
		}
	}
}

// newGRPCServer создаёт служебный gRPC-сервер: health, reflection и метрики интерсепторов.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// stopGRPC останавливает сервер, принудительно по истечении shutdownTimeout.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics, /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func closeStorage(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("storage close failed")
	}
}
