package domain

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Типы событий transactional outbox. Outbox служит очередью асинхронных задач.
const (
	EventCRMOrderCreated = "crm.order_created"
	EventOrderPlaced     = "order.placed"
	EventImportRun       = "import.run"
	EventFeedRebuild     = "feed.rebuild"
	EventSitemapRebuild  = "sitemap.rebuild"
	EventCatalogUpdated  = "catalog.updated"
)

// Типы агрегатов outbox.
const (
	AggregateOrder     = "order"
	AggregateImport    = "import_task"
	AggregateCityGroup = "city_group"
	AggregateCity      = "city"
	AggregateCatalog   = "catalog"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// CRMOrderJob — задача доставки заказа в CRM.
type CRMOrderJob struct {
	OrderID int64  `json:"order_id"`
	Domain  string `json:"domain"`
}

// OrderPlacedEvent — событие order.placed, уходит в Kafka.
type OrderPlacedEvent struct {
	OrderID    int64             `json:"order_id"`
	UserID     int64             `json:"user_id"`
	CityDomain string            `json:"city_domain"`
	Total      string            `json:"total"`
	Lines      []OrderPlacedLine `json:"lines"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// OrderPlacedLine — позиция заказа в событии order.placed.
type OrderPlacedLine struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// ImportJob — задача запуска импорта.
type ImportJob struct {
	TaskID int64 `json:"task_id"`
}

// FeedJob — задача перестроения фида группы городов.
type FeedJob struct {
	CityGroupID int64 `json:"city_group_id"`
}

// SitemapJob — задача перестроения sitemap для домена.
type SitemapJob struct {
	Domain string `json:"domain"`
}

// CatalogUpdatedEvent — событие catalog.updated после завершённого импорта.
type CatalogUpdatedEvent struct {
	TaskID     int64     `json:"task_id"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Deleted    int       `json:"deleted"`
	FinishedAt time.Time `json:"finished_at"`
}

// DeadLetter — сообщение outbox, исчерпавшее попытки публикации.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// OutboxMessage восстанавливает исходное сообщение для повторной постановки в очередь.
func (d DeadLetter) OutboxMessage() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// MessageSender — канал доставки кода подтверждения (email, SMS, Telegram).
type MessageSender interface {
	// Send доставляет текст адресату; ошибка означает неуспех доставки.
	Send(ctx context.Context, to, text string) error
}

// SearchIndexer — внешний поисковый движок, переиндексация best-effort.
type SearchIndexer interface {
	Reindex(ctx context.Context) error
}

// BlobStore — объектное хранилище для фидов, sitemap и медиа.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error)
	// Delete удаляет объект; отсутствующий ключ не считается ошибкой.
	Delete(ctx context.Context, key string) error
}

// BlobInfo — атрибуты сохранённого объекта.
type BlobInfo struct {
	ContentType  string
	Size         int64
	LastModified time.Time
}
