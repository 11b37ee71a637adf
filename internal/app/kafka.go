package app

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если список брокеров не пуст.
// Пустой список даёт nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitList(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// catalogEventHandlers обрабатывает события каталога из Kafka.
// catalog.updated ставит в очередь перестроение всех фидов и sitemap.
func catalogEventHandlers(enqueueAll func(ctx context.Context) (int, error), logger *log.Entry) map[string]kafka.EnvelopeHandler {
	return map[string]kafka.EnvelopeHandler{
		domain.EventCatalogUpdated: func(ctx context.Context, env kafka.Envelope) error {
			var event domain.CatalogUpdatedEvent
			if err := json.Unmarshal(env.Payload, &event); err != nil {
				logger.WithError(err).WithField("event_id", env.ID).Error("malformed catalog.updated event skipped")
				return nil
			}
			queued, err := enqueueAll(ctx)
			if err != nil {
				return fmt.Errorf("enqueue feeds after import %d: %w", event.TaskID, err)
			}
			logger.WithFields(log.Fields{
				"import_task_id": event.TaskID,
				"jobs":           queued,
			}).Info("feeds queued after catalog update")
			return nil
		},
	}
}

// startCatalogConsumer подписывается на топик каталога. Ошибки обработки после повторов
// уходят в DLQ через producer.
func startCatalogConsumer(ctx context.Context, cfg Config, producer *kafka.Producer, enqueueAll func(ctx context.Context) (int, error), logger *log.Entry) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.kafkaBrokers(),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicCatalogEvents},
		kafka.Dispatch(catalogEventHandlers(enqueueAll, logger)),
		producer,
		cfg.OutboxMaxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("create catalog consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start catalog consumer: %w", err)
	}
	return consumer, nil
}
