package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestGuard_ReplaysStoredResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour)
	key := gofakeit.UUID()
	hash := RequestHash("7:POST /orders", []byte(`{"address":"Тверская, 1"}`))

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"id":1}`)}
	}

	first, replayed, err := guard.Do(ctx, key, hash, handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, first.Status)

	second, replayed, err := guard.Do(ctx, key, hash, handler)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestGuard_RejectsDifferentPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), 0)
	key := gofakeit.UUID()

	_, _, err := guard.Do(ctx, key, RequestHash("scope", []byte("a")), func(context.Context) Response {
		return Response{Status: http.StatusCreated}
	})
	require.NoError(t, err)

	_, _, err = guard.Do(ctx, key, RequestHash("scope", []byte("b")), func(context.Context) Response {
		t.Fatal("handler must not run on payload mismatch")
		return Response{}
	})
	require.ErrorIs(t, err, ErrPayloadMismatch)
	require.True(t, domain.IsConflict(err))
}

func TestGuard_InProgressAndFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour)
	hash := RequestHash("scope", nil)

	_, err := repo.CreateProcessing(ctx, "busy", hash, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, _, err = guard.Do(ctx, "busy", hash, func(context.Context) Response { return Response{} })
	require.ErrorIs(t, err, ErrInProgress)
	require.True(t, domain.IsConflict(err))

	resp, _, err := guard.Do(ctx, "broken", hash, func(context.Context) Response {
		return Response{Status: http.StatusInternalServerError, Body: []byte(`{"detail":"internal error"}`)}
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.Status)

	record, err := repo.Get(ctx, "broken")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)

	again, replayed, err := guard.Do(ctx, "broken", hash, func(context.Context) Response { return Response{Status: http.StatusCreated} })
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, http.StatusInternalServerError, again.Status)

	_, _, err = guard.Do(ctx, "  ", hash, func(context.Context) Response { return Response{} })
	require.True(t, domain.IsValidation(err))
}

func TestGuard_RepositoryError(t *testing.T) {
	t.Parallel()
	guard := NewGuard(failingRepo{err: errors.New("db down")}, time.Hour)
	_, _, err := guard.Do(context.Background(), "k", "h", func(context.Context) Response { return Response{} })
	require.ErrorContains(t, err, "db down")
}

func TestRequestHash(t *testing.T) {
	t.Parallel()
	require.Equal(t, RequestHash("a", []byte("b")), RequestHash("a", []byte("b")))
	require.NotEqual(t, RequestHash("ab", nil), RequestHash("a", []byte("b")))
}

type failingRepo struct {
	domain.IdempotencyRepository
	err error
}

func (f failingRepo) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, f.err
}
