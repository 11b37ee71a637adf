package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// idempotent сохраняет ответ по заголовку Idempotency-Key. Ключ действует в пределах
// пользователя; запрос без заголовка обрабатывается как обычно.
func (s *server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerIdempotencyKey)
		if key == "" || s.Idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
		if err != nil {
			writeError(w, r, fmt.Errorf("read body: %w", err))
			return
		}
		p, _ := principalFrom(r.Context())
		scope := fmt.Sprintf("%d:%s %s?%s", p.UserID, r.Method, r.URL.Path, r.URL.RawQuery)
		scopedKey := fmt.Sprintf("%d:%s", p.UserID, key)

		resp, replayed, err := s.Idempotency.Do(r.Context(), scopedKey, idempotency.RequestHash(scope, body),
			func(ctx context.Context) idempotency.Response {
				rec := newBufferedResponse()
				req := r.WithContext(ctx)
				req.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(rec, req)
				return idempotency.Response{Status: rec.status, Body: rec.body.Bytes()}
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if replayed {
			w.Header().Set(headerReplayed, "true")
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	})
}

// bufferedResponse копит ответ обработчика для сохранения по ключу.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedResponse) WriteHeader(status int) { b.status = status }
