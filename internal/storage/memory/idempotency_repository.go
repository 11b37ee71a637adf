package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// defaultPlacementKeyTTL — срок ключа, если вызывающий не передал свой.
const defaultPlacementKeyTTL = 24 * time.Hour

// placementKeys хранит ключи идемпотентности оформления заказа в памяти процесса.
// Ключ с истёкшим сроком, ещё не убранный очисткой, считается свободным.
type placementKeys struct {
	mu   sync.Mutex
	byID map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт хранилище ключей оформления заказа в памяти.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &placementKeys{
		byID: make(map[string]domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (k *placementKeys) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultPlacementKeyTTL)
	}
	if held, ok := k.byID[key]; ok && held.TTLAt.After(now) {
		if held.RequestHash != requestHash {
			return copyRecord(held), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	k.byID[key] = record
	return copyRecord(record), nil
}

func (k *placementKeys) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.byID[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (k *placementKeys) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (k *placementKeys) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit ключей с ttl <= before, начиная с самых старых.
func (k *placementKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if before.IsZero() {
		before = k.now()
	}
	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range k.byID {
		if !record.TTLAt.After(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
		return cmp.Or(a.TTLAt.Compare(b.TTLAt), strings.Compare(a.Key, b.Key))
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(k.byID, record.Key)
	}
	return len(expired), nil
}

func (k *placementKeys) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.byID[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = slices.Clone(responseBody)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = k.now()
	k.byID[key] = record
	return nil
}

func copyRecord(r domain.IdempotencyRecord) domain.IdempotencyRecord {
	r.ResponseBody = slices.Clone(r.ResponseBody)
	return r
}

var _ domain.IdempotencyRepository = (*placementKeys)(nil)
