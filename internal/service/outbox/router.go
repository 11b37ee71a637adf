package outbox

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PublisherFunc позволяет использовать функцию как domain.OutboxPublisher.
type PublisherFunc func(ctx context.Context, msg domain.OutboxMessage) error

// Publish вызывает f.
func (f PublisherFunc) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return f(ctx, msg)
}

// Router направляет задачи очереди обработчикам по типу события.
type Router struct {
	routes   map[string]domain.OutboxPublisher
	fallback domain.OutboxPublisher
	logger   *log.Entry
}

// NewRouter создаёт пустой маршрутизатор.
func NewRouter() *Router {
	return &Router{
		routes: make(map[string]domain.OutboxPublisher),
		logger: log.WithField("component", "outbox-router"),
	}
}

// Handle регистрирует обработчик типа события; повторная регистрация заменяет прежний.
func (r *Router) Handle(eventType string, publisher domain.OutboxPublisher) *Router {
	if publisher != nil {
		r.routes[eventType] = publisher
	}
	return r
}

// Fallback задаёт обработчик для типов без явного маршрута.
func (r *Router) Fallback(publisher domain.OutboxPublisher) *Router {
	r.fallback = publisher
	return r
}

// Routes возвращает зарегистрированные типы событий.
func (r *Router) Routes() []string {
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Publish передаёт задачу обработчику. Задача без маршрута считается ошибкой
// и после исчерпания попыток уходит в DLQ.
func (r *Router) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	publisher, ok := r.routes[msg.EventType]
	if !ok {
		publisher = r.fallback
	}
	if publisher == nil {
		r.logger.WithFields(log.Fields{"outbox_id": msg.ID, "event_type": msg.EventType}).Warn("no route for outbox job")
		return fmt.Errorf("%w: no route for event %q", domain.ErrOutboxPublish, msg.EventType)
	}
	return publisher.Publish(ctx, msg)
}

var _ domain.OutboxPublisher = (*Router)(nil)
