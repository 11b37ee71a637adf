package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// defaultPlacementKeyTTL — срок ключа, если вызывающий не передал свой.
const defaultPlacementKeyTTL = 24 * time.Hour

const placementKeyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

// placementKeyStore хранит ключи идемпотентности оформления заказа в idempotency_keys.
type placementKeyStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт хранилище ключей оформления заказа в PostgreSQL.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &placementKeyStore{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Истёкший ключ, который ещё не удалила очистка,
// перезаписывается тем же запросом: повтор checkout после ttl оформляет новый заказ.
func (s *placementKeyStore) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := s.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultPlacementKeyTTL)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	record, err := scanPlacementKey(s.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			response_body = NULL,
			http_status = NULL,
			status = EXCLUDED.status,
			ttl_at = EXCLUDED.ttl_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING `+placementKeyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
	))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim placement key: %w", err)
	}

	// Ключ занят и ещё действует.
	held, err := s.get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if held.RequestHash != requestHash {
		return held, domain.ErrIdempotencyHashMismatch
	}
	return held, domain.ErrIdempotencyKeyAlreadyExists
}

func (s *placementKeyStore) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.get(ctx, key)
}

func (s *placementKeyStore) get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	record, err := scanPlacementKey(s.db.QueryRowContext(ctx,
		`SELECT `+placementKeyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get placement key %s: %w", key, err)
	}
	return record, nil
}

func (s *placementKeyStore) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return s.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (s *placementKeyStore) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return s.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit ключей с ttl_at <= before, начиная с самых старых.
// limit <= 0 снимает ограничение.
func (s *placementKeyStore) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = s.now()
	}
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at, key
			LIMIT $2
		)`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired placement keys: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(removed), nil
}

func (s *placementKeyStore) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $2, http_status = $3, status = $4, updated_at = $5
		WHERE key = $1`,
		key, responseBody, httpStatus, string(status), s.now())
	if err != nil {
		return fmt.Errorf("finish placement key %s: %w", key, err)
	}
	return mustAffect(res, domain.ErrIdempotencyKeyNotFound)
}

func scanPlacementKey(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	if err := row.Scan(&record.Key, &record.RequestHash, &record.ResponseBody, &httpStatus,
		&status, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("placement key %s has unknown status %q", record.Key, status)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	return record, nil
}

var _ domain.IdempotencyRepository = (*placementKeyStore)(nil)
