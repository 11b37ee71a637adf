// Package notify доставляет коды подтверждения: email (SMTP), SMS (sms.ru) и Telegram.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// CodeText формирует текст сообщения с кодом подтверждения.
func CodeText(code string) string {
	return fmt.Sprintf("Ваш код: %s. Никому не сообщайте его!", code)
}

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// decodeJSON читает ответ шлюза; статус вне 2xx считается неуспехом доставки.
func decodeJSON(resp *http.Response, dst any) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: gateway status %d", domain.ErrSendFailed, resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode gateway response: %v", domain.ErrSendFailed, err)
	}
	return nil
}

// LogSender пишет сообщение в лог вместо доставки; используется без настроенных шлюзов.
type LogSender struct {
	channel string
	logger  *log.Entry
}

// NewLogSender создаёт отладочный канал доставки.
func NewLogSender(channel string) *LogSender {
	return &LogSender{channel: channel, logger: log.WithField("component", "notify-log")}
}

// Send всегда успешен.
func (s *LogSender) Send(_ context.Context, to, text string) error {
	s.logger.WithFields(log.Fields{"channel": s.channel, "to": to}).Info(text)
	return nil
}

var _ domain.MessageSender = (*LogSender)(nil)
