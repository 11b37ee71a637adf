package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultKeyPrefix = "storefront:code:"
	opTimeout        = 2 * time.Second
)

// compareAndSwapScript записывает ARGV[2] с TTL ARGV[3] (мс), если текущее значение равно ARGV[1].
// Пустой ARGV[1] означает, что ключ должен отсутствовать.
var compareAndSwapScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
  if current then return 0 end
elseif current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

var compareAndDeleteScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// CodeCache хранит коды подтверждения в Redis: одна запись на соль.
type CodeCache struct {
	client goredis.UniversalClient
	prefix string
	logger *log.Entry
}

// Option настраивает CodeCache.
type Option func(*CodeCache)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(c *CodeCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// NewCodeCache создаёт кэш поверх готового клиента Redis.
func NewCodeCache(client goredis.UniversalClient, opts ...Option) *CodeCache {
	c := &CodeCache{
		client: client,
		prefix: defaultKeyPrefix,
		logger: log.WithField("component", "redis-code-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial подключается к Redis и проверяет соединение.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Ping проверяет доступность Redis для health-check.
func (c *CodeCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Get возвращает запись соли; истёкшие ключи Redis удаляет сам.
func (c *CodeCache) Get(ctx context.Context, salt string) (domain.CodeEntry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(salt)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.CodeEntry{}, false, nil
	}
	if err != nil {
		return domain.CodeEntry{}, false, fmt.Errorf("get code entry: %w", err)
	}

	var entry domain.CodeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CodeEntry{}, false, fmt.Errorf("decode code entry: %w", err)
	}
	return entry, true, nil
}

// CompareAndSwap атомарно заменяет запись через Lua-скрипт.
func (c *CodeCache) CompareAndSwap(ctx context.Context, salt string, expected *domain.CodeEntry, next domain.CodeEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("code cache ttl must be positive, got %s", ttl)
	}

	var expectedRaw string
	if expected != nil {
		raw, err := encodeEntry(*expected)
		if err != nil {
			return err
		}
		expectedRaw = raw
	}
	nextRaw, err := encodeEntry(next)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	swapped, err := compareAndSwapScript.Run(ctx, c.client, []string{c.key(salt)},
		expectedRaw, nextRaw, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("swap code entry: %w", err)
	}
	if swapped == 0 {
		c.logger.WithField("salt", salt).Debug("code entry changed concurrently")
		return domain.ErrCacheConflict
	}
	return nil
}

// CompareAndDelete удаляет запись, если она не менялась с момента чтения.
func (c *CodeCache) CompareAndDelete(ctx context.Context, salt string, expected domain.CodeEntry) error {
	expectedRaw, err := encodeEntry(expected)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deleted, err := compareAndDeleteScript.Run(ctx, c.client, []string{c.key(salt)}, expectedRaw).Int()
	if err != nil {
		return fmt.Errorf("delete code entry: %w", err)
	}
	if deleted == 0 {
		return domain.ErrCacheConflict
	}
	return nil
}

func (c *CodeCache) key(salt string) string {
	return c.prefix + salt
}

// encodeEntry даёт каноническое представление записи: сравнение в скриптах побайтовое.
func encodeEntry(entry domain.CodeEntry) (string, error) {
	entry.ExpiresAt = entry.ExpiresAt.UTC().Round(0)
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode code entry: %w", err)
	}
	return string(raw), nil
}

var _ domain.CodeCache = (*CodeCache)(nil)
