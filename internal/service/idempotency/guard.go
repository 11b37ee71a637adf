// Package idempotency хранит ответы запросов по Idempotency-Key и чистит просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — срок хранения ответа по ключу.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInProgress — запрос с тем же ключом ещё выполняется.
	ErrInProgress = fmt.Errorf("request with the same idempotency key is already processing: %w", domain.ErrConflict)
	// ErrPayloadMismatch — ключ уже использован с другим телом запроса.
	ErrPayloadMismatch = fmt.Errorf("%w: %w", domain.ErrIdempotencyHashMismatch, domain.ErrConflict)
)

// Response — сохраняемый ответ обработчика.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет обработчик не более одного раза на ключ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard; ttl <= 0 означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: log.WithField("component", "idempotency-guard"),
	}
}

// RequestHash считает отпечаток запроса: пользователь, маршрут и тело.
func RequestHash(scope string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(scope))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// Do выполняет handler, если ключ новый, иначе возвращает сохранённый ответ.
// replayed сообщает, что ответ взят из хранилища. Ответы 5xx не сохраняются
// как окончательные: ключ помечается failed и повтор получает тот же ответ.
func (g *Guard) Do(ctx context.Context, key, requestHash string, handler func(ctx context.Context) Response) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().UTC().Add(g.ttl))
	if err != nil {
		return g.replay(record, err)
	}

	resp = handler(ctx)
	logger := g.logger.WithFields(log.Fields{"idempotency_key": key, "status": resp.Status})
	if resp.Status >= http.StatusInternalServerError {
		if markErr := g.repo.MarkFailed(ctx, key, resp.Body, resp.Status); markErr != nil {
			logger.WithError(markErr).Warn("failed to store idempotency failure response")
		}
		return resp, false, nil
	}
	if markErr := g.repo.MarkDone(ctx, key, resp.Body, resp.Status); markErr != nil {
		logger.WithError(markErr).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}

func (g *Guard) replay(record domain.IdempotencyRecord, createErr error) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, ErrPayloadMismatch
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			return Response{Status: status, Body: record.ResponseBody}, true, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, false, ErrInProgress
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired):
		return Response{}, false, domain.NewValidationError("Idempotency-Key", "обязательное поле")
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
