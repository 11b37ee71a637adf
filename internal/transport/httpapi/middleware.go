package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("staff permission required")
)

type principalKey struct{}

// TokenParser проверяет access-токен из заголовка Authorization.
type TokenParser interface {
	ParseAccess(raw string) (auth.Principal, error)
}

// principalFrom возвращает пользователя запроса, если он аутентифицирован.
func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// authenticate разбирает Bearer-токен, если он передан. Неверный токен даёт 401 сразу,
// отсутствие токена оставляет запрос анонимным.
func authenticate(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || tokens == nil {
				next.ServeHTTP(w, r)
				return
			}
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				writeDetail(w, http.StatusUnauthorized, "Некорректный заголовок Authorization")
				return
			}
			principal, err := tokens.ParseAccess(strings.TrimSpace(raw))
			if err != nil {
				writeDetail(w, http.StatusUnauthorized, "Токен недействителен или просрочен")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFrom(r.Context()); !ok {
			writeError(w, r, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok {
			writeError(w, r, errUnauthenticated)
			return
		}
		if !p.Staff {
			writeError(w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog пишет одну запись на запрос и считает запросы по шаблону маршрута.
func accessLog(m *metrics.StorefrontMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.RecordHTTPRequest(route, r.Method, status)

			entry := requestLogger(r).WithFields(log.Fields{
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       ww.BytesWritten(),
			})
			switch {
			case status >= http.StatusInternalServerError:
				entry.Error("request served")
			case status >= http.StatusBadRequest:
				entry.Warn("request served")
			default:
				entry.Info("request served")
			}
		})
	}
}

func requestLogger(r *http.Request) *log.Entry {
	entry := log.WithFields(log.Fields{
		"component": "httpapi",
		"method":    r.Method,
		"path":      r.URL.Path,
	})
	if id := middleware.GetReqID(r.Context()); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}
