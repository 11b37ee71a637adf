package bitrix

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidWebhookToken — токен приложения во входящем вебхуке не совпал.
var ErrInvalidWebhookToken = errors.New("invalid bitrix application token")

// WebhookHandler обрабатывает входящее событие портала.
type WebhookHandler interface {
	Handle(ctx context.Context, form url.Values) error
}

// WebhookHandlerFunc адаптирует функцию к WebhookHandler.
type WebhookHandlerFunc func(ctx context.Context, form url.Values) error

// Handle вызывает f.
func (f WebhookHandlerFunc) Handle(ctx context.Context, form url.Values) error { return f(ctx, form) }

// Webhooks диспетчеризует входящие вебхуки по паре (model, action).
type Webhooks struct {
	token    string
	handlers map[string]map[string]WebhookHandler
	logger   *log.Entry
}

// NewWebhooks создаёт реестр; пустой token отключает проверку.
func NewWebhooks(token string) *Webhooks {
	return &Webhooks{
		token:    token,
		handlers: make(map[string]map[string]WebhookHandler),
		logger:   log.WithField("component", "bitrix-webhooks"),
	}
}

// Register добавляет обработчик пары (model, action).
func (w *Webhooks) Register(model, action string, h WebhookHandler) {
	actions, ok := w.handlers[model]
	if !ok {
		actions = make(map[string]WebhookHandler)
		w.handlers[model] = actions
	}
	actions[action] = h
}

// Handle проверяет токен и вызывает обработчик. Неизвестные пары логируются и пропускаются.
func (w *Webhooks) Handle(ctx context.Context, form url.Values) error {
	if w.token != "" {
		got := form.Get("auth[application_token]")
		if subtle.ConstantTimeCompare([]byte(got), []byte(w.token)) != 1 {
			w.logger.Warn("webhook rejected: application token mismatch")
			return ErrInvalidWebhookToken
		}
	}

	model, action := form.Get("model"), form.Get("action")
	logger := w.logger.WithFields(log.Fields{"model": model, "action": action})

	actions, ok := w.handlers[model]
	if !ok {
		logger.Warn("webhook for unknown model ignored")
		return nil
	}
	h, ok := actions[action]
	if !ok {
		logger.Warn("webhook for unknown action ignored")
		return nil
	}
	if err := h.Handle(ctx, form); err != nil {
		logger.WithError(err).Error("webhook handler failed")
		return err
	}
	return nil
}
