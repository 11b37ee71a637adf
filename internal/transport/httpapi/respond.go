package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// Тексты ответов, на которые завязаны клиенты витрины.
const (
	detailUnavailable    = "Товары недоступны для заказа"
	detailUnpriced       = "Товар не имеет цены в городе заказа"
	detailNotFound       = "Не найдено."
	detailEmptyCart      = "Корзина пуста"
	detailInvalidCode    = "Неверный код подтверждения"
	detailTemplate       = "Шаблон метаданных не найден"
	detailUnauthorized   = "Учетные данные не были предоставлены."
	detailForbidden      = "У вас недостаточно прав для выполнения данного действия."
	detailInternal       = "Внутренняя ошибка сервера"
	detailInProgress     = "Запрос с этим ключом идемпотентности ещё выполняется"
	detailPayloadChanged = "Ключ идемпотентности уже использован с другим телом запроса"
	messageSendFailed    = "Message sent failed"
)

// listEnvelope — общий конверт списков.
type listEnvelope struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// newList оборачивает непагинированный список.
func newList[T any](items []T) listEnvelope {
	if items == nil {
		items = []T{}
	}
	return listEnvelope{Count: len(items), Results: items}
}

// newPage строит конверт страницы со ссылками limit/offset относительно текущего запроса.
func newPage[T any](r *http.Request, count, limit, offset int, items []T) listEnvelope {
	env := newList(items)
	env.Count = count
	if limit <= 0 {
		return env
	}
	if offset+limit < count {
		next := pageURL(r, limit, offset+limit)
		env.Next = &next
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		previous := pageURL(r, limit, prev)
		env.Previous = &previous
	}
	return env
}

func pageURL(r *http.Request, limit, offset int) string {
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	} else {
		q.Del("offset")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("component", "httpapi").WithError(err).Warn("failed to encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError переводит доменную ошибку в HTTP-ответ. Неизвестные ошибки логируются
// и отдаются как непрозрачный 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr      *domain.ValidationError
		unavail   *domain.UnavailableError
		unpriced  *domain.UnpricedError
		throttled *domain.ThrottledError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.As(err, &unavail):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail":     detailUnavailable,
			"cart_items": unavail.CartLineIDs,
		})
	case errors.As(err, &unpriced):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail":     detailUnpriced,
			"product_id": unpriced.ProductID,
		})
	case errors.As(err, &throttled):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message":         "Please wait. Time remaining: " + domain.FormatRemaining(throttled.Remaining),
			"expiration_time": throttled.ExpiresAt.Unix(),
		})
	case errors.Is(err, domain.ErrSendFailed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": messageSendFailed})
	case errors.Is(err, domain.ErrNoCode), errors.Is(err, domain.ErrInvalidCode):
		writeDetail(w, http.StatusBadRequest, detailInvalidCode)
	case errors.Is(err, domain.ErrUnsupportedFile):
		writeJSON(w, http.StatusBadRequest, map[string][]string{"file": {err.Error()}})
	case errors.Is(err, errUnauthenticated):
		writeDetail(w, http.StatusUnauthorized, detailUnauthorized)
	case errors.Is(err, errForbidden):
		writeDetail(w, http.StatusForbidden, detailForbidden)
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrCartLinesNotFound):
		writeDetail(w, http.StatusNotFound, detailEmptyCart)
	case errors.Is(err, domain.ErrTemplateMissing):
		writeDetail(w, http.StatusNotFound, detailTemplate)
	case domain.IsNotFound(err):
		writeDetail(w, http.StatusNotFound, detailNotFound)
	case errors.Is(err, idempotency.ErrInProgress):
		writeDetail(w, http.StatusConflict, detailInProgress)
	case errors.Is(err, idempotency.ErrPayloadMismatch):
		writeDetail(w, http.StatusConflict, detailPayloadChanged)
	case domain.IsConflict(err):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		requestLogger(r).WithError(err).Error("request failed")
		writeDetail(w, http.StatusInternalServerError, detailInternal)
	}
}
