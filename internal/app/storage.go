package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	rediscache "github.com/vladislavdragonenkov/storefront/internal/cache/redis"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/objectstore"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies — репозитории выбранного драйвера хранилища.
type runtimeDependencies struct {
	uow             domain.OrderUnitOfWork
	catalog         domain.CatalogRepository
	prices          domain.PriceRepository
	carts           domain.CartRepository
	orders          domain.OrderRepository
	cities          domain.CityRepository
	users           domain.UserRepository
	metas           domain.MetaRepository
	importTasks     domain.ImportTaskRepository
	importStore     domain.ImportStore
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			uow:             store,
			catalog:         memory.NewCatalogRepository(store),
			prices:          memory.NewPriceRepository(store),
			carts:           memory.NewCartRepository(store),
			orders:          memory.NewOrderRepository(store),
			cities:          memory.NewCityRepository(store),
			users:           memory.NewUserRepository(store),
			metas:           memory.NewMetaRepository(store),
			importTasks:     memory.NewImportTaskRepository(store),
			importStore:     memory.NewImportStore(store),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage driver requires STOREFRONT_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.PostgresMaxConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := prometheus.Register(store.Collector()); err != nil {
			logger.WithError(err).Warn("postgres pool metrics are not exported")
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			uow:             store,
			catalog:         postgres.NewCatalogRepository(store),
			prices:          postgres.NewPriceRepository(store),
			carts:           postgres.NewCartRepository(store),
			orders:          postgres.NewOrderRepository(store),
			cities:          postgres.NewCityRepository(store),
			users:           postgres.NewUserRepository(store),
			metas:           postgres.NewMetaRepository(store),
			importTasks:     postgres.NewImportTaskRepository(store),
			importStore:     postgres.NewImportStore(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initCodeCache выбирает Redis при заданном адресе и in-memory кэш иначе.
func initCodeCache(ctx context.Context, cfg Config, logger *log.Entry) (domain.CodeCache, healthcheck.Checker, func() error, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("STOREFRONT_REDIS_ADDR is empty, confirmation codes are kept in process memory")
		return memory.NewCodeCache(), nil, nil, nil
	}
	client, err := rediscache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, err
	}
	cache := rediscache.NewCodeCache(client)
	logger.WithField("addr", cfg.RedisAddr).Info("redis code cache connected")
	return cache, healthcheck.NewOptionalChecker("code_cache", cache.Ping), client.Close, nil
}

// initBlobStore выбирает S3 при заданном бакете и локальный каталог иначе.
func initBlobStore(ctx context.Context, cfg Config, logger *log.Entry) (domain.BlobStore, error) {
	if cfg.S3Bucket == "" {
		root := filepath.Clean(cfg.BlobRoot)
		logger.WithField("root", root).Info("using filesystem blob store")
		return objectstore.NewFSStore(root), nil
	}
	store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Prefix:    cfg.S3Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 store: %w", err)
	}
	logger.WithField("bucket", cfg.S3Bucket).Info("using s3 blob store")
	return store, nil
}
