package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cachedCode struct {
	entry    domain.CodeEntry
	deadline time.Time
}

// CodeCache — in-memory кэш кодов подтверждения с TTL на запись.
type CodeCache struct {
	mu    sync.Mutex
	items map[string]cachedCode
	now   func() time.Time
}

// NewCodeCache создаёт пустой кэш кодов.
func NewCodeCache() *CodeCache {
	return &CodeCache{
		items: make(map[string]cachedCode),
		now:   time.Now,
	}
}

// Get возвращает запись соли, если её TTL не истёк.
func (c *CodeCache) Get(_ context.Context, salt string) (domain.CodeEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(salt)
	return entry, ok, nil
}

// CompareAndSwap атомарно заменяет запись, если текущее значение равно expected.
func (c *CodeCache) CompareAndSwap(_ context.Context, salt string, expected *domain.CodeEntry, next domain.CodeEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.liveLocked(salt)
	if !matches(current, ok, expected) {
		return domain.ErrCacheConflict
	}
	c.items[salt] = cachedCode{entry: next, deadline: c.now().Add(ttl)}
	return nil
}

// CompareAndDelete удаляет запись, если она не изменилась.
func (c *CodeCache) CompareAndDelete(_ context.Context, salt string, expected domain.CodeEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.liveLocked(salt)
	if !matches(current, ok, &expected) {
		return domain.ErrCacheConflict
	}
	delete(c.items, salt)
	return nil
}

func (c *CodeCache) liveLocked(salt string) (domain.CodeEntry, bool) {
	item, ok := c.items[salt]
	if !ok {
		return domain.CodeEntry{}, false
	}
	if !c.now().Before(item.deadline) {
		delete(c.items, salt)
		return domain.CodeEntry{}, false
	}
	return item.entry, true
}

func matches(current domain.CodeEntry, present bool, expected *domain.CodeEntry) bool {
	if expected == nil {
		return !present
	}
	return present &&
		current.Code == expected.Code &&
		current.Lookup == expected.Lookup &&
		current.ExpiresAt.Equal(expected.ExpiresAt)
}

var _ domain.CodeCache = (*CodeCache)(nil)
