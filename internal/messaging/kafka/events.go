package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicCatalogEvents   = "storefront.catalog.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — формат сообщения во всех топиках storefront.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// OutboxMessage распаковывает конверт обратно в сообщение outbox.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}

// TopicFor выбирает топик по типу события: заказы и CRM идут в топик заказов,
// остальное в топик каталога.
func TopicFor(eventType string) string {
	switch {
	case eventType == domain.EventOrderPlaced, strings.HasPrefix(eventType, "crm."):
		return TopicOrderEvents
	default:
		return TopicCatalogEvents
	}
}

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("envelope without event_type")
	}
	return &env, nil
}

// ParseOrderPlaced парсит событие order.placed.
func ParseOrderPlaced(message *sarama.ConsumerMessage) (*domain.OrderPlacedEvent, error) {
	var event domain.OrderPlacedEvent
	if err := decodePayload(message, domain.EventOrderPlaced, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseCatalogUpdated парсит событие catalog.updated.
func ParseCatalogUpdated(message *sarama.ConsumerMessage) (*domain.CatalogUpdatedEvent, error) {
	var event domain.CatalogUpdatedEvent
	if err := decodePayload(message, domain.EventCatalogUpdated, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// ParseDeadLetter парсит запись из DLQ. Тип события в конверте сохраняет исходный.
func ParseDeadLetter(message *sarama.ConsumerMessage) (*domain.DeadLetter, error) {
	env, err := ParseEnvelope(message)
	if err != nil {
		return nil, err
	}
	var letter domain.DeadLetter
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	if letter.EventType == "" {
		letter.EventType = env.EventType
	}
	return &letter, nil
}

func decodePayload(message *sarama.ConsumerMessage, eventType string, dst any) error {
	env, err := ParseEnvelope(message)
	if err != nil {
		return err
	}
	if env.EventType != eventType {
		return fmt.Errorf("unexpected event type %q, want %q", env.EventType, eventType)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
	}
	return nil
}
