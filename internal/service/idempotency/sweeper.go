package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
	// defaultSweepBatches ограничивает один проход: остаток дочищает следующий тик.
	defaultSweepBatches = 20
)

// ExpiredKeyDeleter удаляет ключи оформления заказа с истёкшим сроком.
type ExpiredKeyDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SweepOption настраивает Sweeper.
type SweepOption func(*Sweeper)

// WithSweepInterval задаёт период между проходами.
func WithSweepInterval(interval time.Duration) SweepOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepBatch задаёт число ключей, удаляемых одним запросом.
func WithSweepBatch(size int) SweepOption {
	return func(s *Sweeper) {
		if size > 0 {
			s.batch = size
		}
	}
}

// WithSweepMaxBatches задаёт предел запросов удаления за один проход.
func WithSweepMaxBatches(n int) SweepOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxBatches = n
		}
	}
}

// WithSweepLogger задаёт логгер.
func WithSweepLogger(logger *log.Entry) SweepOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepMetrics включает учёт проходов в метриках витрины.
func WithSweepMetrics(m *metrics.StorefrontMetrics) SweepOption {
	return func(s *Sweeper) { s.metrics = m }
}

// Sweeper удаляет просроченные ключи оформления заказа, чтобы таблица ключей
// не росла после распродаж с массовыми повторами checkout.
type Sweeper struct {
	keys       ExpiredKeyDeleter
	interval   time.Duration
	batch      int
	maxBatches int
	now        func() time.Time
	logger     *log.Entry
	metrics    *metrics.StorefrontMetrics
}

// NewSweeper создаёт Sweeper поверх хранилища ключей.
func NewSweeper(keys ExpiredKeyDeleter, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		keys:       keys,
		interval:   defaultSweepInterval,
		batch:      defaultSweepBatch,
		maxBatches: defaultSweepBatches,
		now:        time.Now,
		logger:     log.WithField("component", "idempotency-sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run чистит ключи сразу и затем раз в interval, пока не отменён ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.keys == nil {
		s.logger.Warn("idempotency sweeper disabled: no key store")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	removed, err := s.Sweep(ctx)
	if errors.Is(err, context.Canceled) {
		return
	}
	s.metrics.RecordIdempotencySweep(removed, err == nil)
	entry := s.logger.WithField("removed", removed)
	if err != nil {
		entry.WithError(err).Warn("idempotency sweep failed")
		return
	}
	if removed > 0 {
		entry.Info("expired placement keys removed")
	}
}

// Sweep удаляет ключи, срок которых истёк к текущему моменту, порциями batch.
// Возвращает число удалённых ключей, в том числе при ошибке.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	before := s.now().UTC()
	total := 0
	for range s.maxBatches {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.keys.DeleteExpired(ctx, before, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch {
			return total, nil
		}
	}
	s.logger.WithField("removed", total).Debug("sweep batch limit reached, continuing next tick")
	return total, nil
}
