package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func expectTopic(topic, key string) mocks.MessageChecker {
	return func(pm *sarama.ProducerMessage) error {
		if pm.Topic != topic {
			return fmt.Errorf("topic %s, want %s", pm.Topic, topic)
		}
		gotKey, err := pm.Key.Encode()
		if err != nil {
			return err
		}
		if string(gotKey) != key {
			return fmt.Errorf("key %s, want %s", gotKey, key)
		}
		return nil
	}
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectTopic(TopicOrderEvents, "42"))

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, "")

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "42",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"order_id":42}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_FixedTopicAndIDKey(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(expectTopic(TopicDeadLetterQueue, "outbox-9"))

	producer := &Producer{producer: mockProducer, logger: log.WithField("component", "kafka-outbox-publisher-test")}
	publisher := NewOutboxPublisher(producer, TopicDeadLetterQueue)

	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-9", EventType: domain.EventCatalogUpdated}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, TopicCatalogEvents)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateImport,
		AggregateID:   "5",
		EventType:     domain.EventCatalogUpdated,
		Payload:       []byte(`{"task_id":5}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
