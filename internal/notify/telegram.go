package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSender отправляет сообщения ботом. Адресат — chat_id; пустой адресат заменяется чатом по умолчанию.
type TelegramSender struct {
	apiBase     string
	token       string
	defaultChat string
	client      *http.Client
}

// NewTelegramSender создаёт отправителя для бота token.
func NewTelegramSender(apiBase, token, defaultChat string, client *http.Client) *TelegramSender {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultTelegramAPI
	}
	return &TelegramSender{
		apiBase:     strings.TrimSuffix(apiBase, "/"),
		token:       token,
		defaultChat: defaultChat,
		client:      newHTTPClient(client),
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send вызывает sendMessage; успех определяется полем ok ответа.
func (s *TelegramSender) Send(ctx context.Context, to, text string) error {
	chatID := strings.TrimSpace(to)
	if chatID == "" {
		chatID = s.defaultChat
	}

	payload, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("encode telegram message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: telegram: %v", domain.ErrSendFailed, err)
	}

	var out telegramResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("%w: telegram: %s", domain.ErrSendFailed, out.Description)
	}
	return nil
}

var _ domain.MessageSender = (*TelegramSender)(nil)
