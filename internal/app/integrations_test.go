package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestBuildSenders_MocksByDefault(t *testing.T) {
	senders, err := buildSenders(DefaultConfig(), newHTTPClient(), log.WithField("test", "senders"))
	require.NoError(t, err)
	require.IsType(t, &notify.LogSender{}, senders[domain.ConfirmationEmail])
	require.IsType(t, &notify.LogSender{}, senders[domain.ConfirmationPhone])
}

func TestBuildSenders_ConfiguredChannels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SMTPHost = "smtp.example.com"
	cfg.SMTPFrom = "shop@example.com"
	cfg.SMSRuAPIID = "api-id"
	cfg.TelegramBotToken = "token"

	senders, err := buildSenders(cfg, newHTTPClient(), log.WithField("test", "senders"))
	require.NoError(t, err)
	require.IsType(t, &notify.SMTPSender{}, senders[domain.ConfirmationEmail])
	require.IsType(t, &notify.SMSRuSender{}, senders[domain.ConfirmationPhone], "sms.ru wins over telegram")

	cfg.SMSRuAPIID = ""
	senders, err = buildSenders(cfg, newHTTPClient(), log.WithField("test", "senders"))
	require.NoError(t, err)
	require.IsType(t, &notify.TelegramSender{}, senders[domain.ConfirmationPhone])
}

func TestBuildSenders_MocksDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowMockIntegrations = false

	_, err := buildSenders(cfg, newHTTPClient(), log.WithField("test", "senders"))
	require.ErrorIs(t, err, errMockIntegrationsDisabled)

	cfg.SMTPHost = "smtp.example.com"
	_, err = buildSenders(cfg, newHTTPClient(), log.WithField("test", "senders"))
	require.ErrorIs(t, err, errMockIntegrationsDisabled, "phone channel is still missing")
}

func TestBitrixConfigured(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.bitrixConfigured())

	cfg.BitrixLeadAddURL = "https://portal.example.com/rest/1/token/crm.lead.add.json"
	require.False(t, cfg.bitrixConfigured())

	cfg.BitrixUserGetURL = "https://portal.example.com/rest/1/token/user.get.json"
	require.True(t, cfg.bitrixConfigured())
	require.NotNil(t, newBitrixClient(cfg, newHTTPClient()))
	require.NotNil(t, newCRMClient(cfg, newHTTPClient()))
}

func TestDiscardCRM_AcknowledgesJobs(t *testing.T) {
	publisher := discardCRM(log.WithField("test", "crm"))
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "1", AggregateID: "42", EventType: domain.EventCRMOrderCreated}))
}

func TestNewSearchIndexer_DisabledWithoutAddresses(t *testing.T) {
	indexer, err := newSearchIndexer(DefaultConfig(), memory.NewCatalogRepository(memory.NewStore()))
	require.NoError(t, err)
	require.Nil(t, indexer)
}
