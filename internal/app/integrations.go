package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/crm/bitrix"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
	"github.com/vladislavdragonenkov/storefront/internal/search"
	"github.com/vladislavdragonenkov/storefront/internal/service/crm"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const integrationTimeout = 10 * time.Second

// errMockIntegrationsDisabled возвращается, когда канал не настроен, а заглушки запрещены.
var errMockIntegrationsDisabled = errors.New("integration is not configured and mock integrations are disabled")

// newHTTPClient — общий клиент внешних интеграций.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: integrationTimeout}
}

// buildSenders выбирает каналы доставки кодов: SMTP для email; sms.ru, затем Telegram для телефона.
// Без настроек используется LogSender, если AllowMockIntegrations.
func buildSenders(cfg Config, client *http.Client, logger *log.Entry) (map[domain.ConfirmationFlow]domain.MessageSender, error) {
	senders := make(map[domain.ConfirmationFlow]domain.MessageSender, 2)

	switch {
	case cfg.SMTPHost != "":
		senders[domain.ConfirmationEmail] = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	case cfg.AllowMockIntegrations:
		logger.Warn("smtp is not configured, email codes are written to the log")
		senders[domain.ConfirmationEmail] = notify.NewLogSender("email")
	default:
		return nil, fmt.Errorf("email sender: %w", errMockIntegrationsDisabled)
	}

	switch {
	case cfg.SMSRuAPIID != "":
		senders[domain.ConfirmationPhone] = notify.NewSMSRuSender(cfg.SMSRuURL, cfg.SMSRuAPIID, client)
	case cfg.TelegramBotToken != "":
		senders[domain.ConfirmationPhone] = notify.NewTelegramSender(cfg.TelegramAPIBase, cfg.TelegramBotToken, cfg.TelegramChatID, client)
	case cfg.AllowMockIntegrations:
		logger.Warn("sms gateway is not configured, phone codes are written to the log")
		senders[domain.ConfirmationPhone] = notify.NewLogSender("phone")
	default:
		return nil, fmt.Errorf("phone sender: %w", errMockIntegrationsDisabled)
	}
	return senders, nil
}

// bitrixConfigured сообщает, заданы ли адреса вебхуков Bitrix24 для доставки лидов.
func (c Config) bitrixConfigured() bool {
	return c.BitrixLeadAddURL != "" && c.BitrixUserGetURL != ""
}

func newBitrixClient(cfg Config, client *http.Client) *bitrix.Client {
	return bitrix.NewClient(bitrix.Config{
		UserGetURL:    cfg.BitrixUserGetURL,
		LeadAddURL:    cfg.BitrixLeadAddURL,
		LeadUpdateURL: cfg.BitrixLeadUpdateURL,
		LeadDeleteURL: cfg.BitrixLeadDeleteURL,
		LeadGetURL:    cfg.BitrixLeadGetURL,
		LeadListURL:   cfg.BitrixLeadListURL,
		Timeout:       integrationTimeout,
	}, client)
}

// newCRMClient оборачивает клиента Bitrix24 в circuit breaker.
func newCRMClient(cfg Config, client *http.Client) *crm.GuardedClient {
	breaker := crm.NewCircuitBreaker(cfg.CRMBreakerMaxFailures, cfg.CRMBreakerResetTimeout)
	return crm.NewGuardedClient(newBitrixClient(cfg, client), breaker)
}

// discardCRM подтверждает задачи CRM без доставки, когда CRM не настроена.
func discardCRM(logger *log.Entry) domain.OutboxPublisher {
	return outbox.PublisherFunc(func(_ context.Context, msg domain.OutboxMessage) error {
		logger.WithFields(log.Fields{"message_id": msg.ID, "order_id": msg.AggregateID}).
			Warn("crm is not configured, order is not delivered")
		return nil
	})
}

// newSearchIndexer возвращает nil, если Elasticsearch не настроен.
func newSearchIndexer(cfg Config, catalog domain.CatalogRepository) (*search.ElasticIndexer, error) {
	addrs := splitList(cfg.ElasticAddresses)
	if len(addrs) == 0 {
		return nil, nil
	}
	return search.NewElasticIndexer(search.Config{
		Addresses: addrs,
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
		Index:     cfg.ElasticIndex,
	}, catalog)
}
