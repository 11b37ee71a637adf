package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultSMSRuURL = "https://sms.ru/sms/send"

// SMSRuSender отправляет SMS через HTTP API sms.ru.
type SMSRuSender struct {
	endpoint string
	apiID    string
	client   *http.Client
	logger   *log.Entry
}

// NewSMSRuSender создаёт отправителя; пустой endpoint означает публичный адрес sms.ru.
func NewSMSRuSender(endpoint, apiID string, client *http.Client) *SMSRuSender {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultSMSRuURL
	}
	return &SMSRuSender{
		endpoint: endpoint,
		apiID:    apiID,
		client:   newHTTPClient(client),
		logger:   log.WithField("component", "notify-smsru"),
	}
}

type smsRuResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
}

// Send считает доставку успешной, только если шлюз ответил status == "OK".
func (s *SMSRuSender) Send(ctx context.Context, to, text string) error {
	query := url.Values{}
	query.Set("api_id", s.apiID)
	query.Set("to", strings.TrimPrefix(to, "+"))
	query.Set("msg", text)
	query.Set("json", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build sms.ru request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sms.ru: %v", domain.ErrSendFailed, err)
	}

	var out smsRuResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if out.Status != "OK" {
		s.logger.WithFields(log.Fields{"status_code": out.StatusCode, "status_text": out.StatusText}).Warn("sms.ru rejected message")
		return fmt.Errorf("%w: sms.ru status %q", domain.ErrSendFailed, out.Status)
	}
	return nil
}

var _ domain.MessageSender = (*SMSRuSender)(nil)
