package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// jobHandlers — обработчики задач очереди outbox.
type jobHandlers struct {
	CRM      domain.OutboxPublisher
	Importer domain.OutboxPublisher
	Feeds    domain.OutboxPublisher
	// Events публикует доменные события наружу (Kafka); nil означает локальную обработку.
	Events domain.OutboxPublisher
	// EnqueueFeeds ставит в очередь все фиды и sitemap; вызывается на catalog.updated без Kafka.
	EnqueueFeeds func(ctx context.Context) (int, error)
}

// newJobRouter собирает маршрутизатор задач outbox.
func newJobRouter(h jobHandlers, logger *log.Entry) *outbox.Router {
	router := outbox.NewRouter().
		Handle(domain.EventCRMOrderCreated, h.CRM).
		Handle(domain.EventImportRun, h.Importer).
		Handle(domain.EventFeedRebuild, h.Feeds).
		Handle(domain.EventSitemapRebuild, h.Feeds)

	if h.Events != nil {
		router.Handle(domain.EventOrderPlaced, h.Events).
			Handle(domain.EventCatalogUpdated, h.Events)
		return router
	}

	router.Handle(domain.EventOrderPlaced, outbox.PublisherFunc(func(_ context.Context, msg domain.OutboxMessage) error {
		logger.WithField("order_id", msg.AggregateID).Debug("order.placed acknowledged without event bus")
		return nil
	}))
	if h.EnqueueFeeds != nil {
		router.Handle(domain.EventCatalogUpdated, outbox.PublisherFunc(func(ctx context.Context, msg domain.OutboxMessage) error {
			queued, err := h.EnqueueFeeds(ctx)
			if err != nil {
				return fmt.Errorf("enqueue feeds: %w", err)
			}
			logger.WithFields(log.Fields{"import_task_id": msg.AggregateID, "jobs": queued}).Info("feeds queued after catalog update")
			return nil
		}))
	}
	return router
}
