package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины. Значения читаются из окружения STOREFRONT_*,
// env-default совпадает с DefaultConfig.
type Config struct {
	HTTPAddr           string        `env:"STOREFRONT_HTTP_ADDR" env-default:":8000"`
	GRPCAddr           string        `env:"STOREFRONT_GRPC_ADDR" env-default:":50051"`
	MetricsAddr        string        `env:"STOREFRONT_METRICS_ADDR" env-default:":9090"`
	HTTPRequestTimeout time.Duration `env:"STOREFRONT_HTTP_REQUEST_TIMEOUT" env-default:"30s"`
	LogLevel           string        `env:"STOREFRONT_LOG_LEVEL" env-default:"info"`
	LogFormat          string        `env:"STOREFRONT_LOG_FORMAT" env-default:"text"`

	StorageDriver       string `env:"STOREFRONT_STORAGE_DRIVER" env-default:"memory"`
	PostgresDSN         string `env:"STOREFRONT_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"STOREFRONT_POSTGRES_AUTO_MIGRATE" env-default:"true"`

	// PostgresMaxConns и PostgresConnMaxLifetime задают пул; 0 оставляет значения postgres.DefaultPool.
	PostgresMaxConns        int           `env:"STOREFRONT_POSTGRES_MAX_CONNS" env-default:"25"`
	PostgresConnMaxLifetime time.Duration `env:"STOREFRONT_POSTGRES_CONN_MAX_LIFETIME" env-default:"30m"`

	RedisAddr     string `env:"STOREFRONT_REDIS_ADDR"`
	RedisPassword string `env:"STOREFRONT_REDIS_PASSWORD"`
	RedisDB       int    `env:"STOREFRONT_REDIS_DB" env-default:"0"`

	KafkaBrokers       string `env:"STOREFRONT_KAFKA_BROKERS"`
	KafkaConsumerGroup string `env:"STOREFRONT_KAFKA_CONSUMER_GROUP" env-default:"storefront"`
	KafkaDLQTopic      string `env:"STOREFRONT_KAFKA_DLQ_TOPIC" env-default:"storefront.dlq"`

	// BlobRoot — корень локального хранилища файлов, если S3 не настроен.
	BlobRoot    string `env:"STOREFRONT_BLOB_ROOT" env-default:"var"`
	S3Bucket    string `env:"STOREFRONT_S3_BUCKET"`
	S3Region    string `env:"STOREFRONT_S3_REGION" env-default:"ru-central1"`
	S3Endpoint  string `env:"STOREFRONT_S3_ENDPOINT"`
	S3AccessKey string `env:"STOREFRONT_S3_ACCESS_KEY"`
	S3SecretKey string `env:"STOREFRONT_S3_SECRET_KEY"`
	S3Prefix    string `env:"STOREFRONT_S3_PREFIX"`

	MediaURL        string `env:"STOREFRONT_MEDIA_URL" env-default:"/media/"`
	ImageImportRoot string `env:"STOREFRONT_IMAGE_IMPORT_ROOT" env-default:"import_images"`
	FeedsDir        string `env:"STOREFRONT_FEEDS_DIR" env-default:"feeds"`
	SitemapDir      string `env:"STOREFRONT_SITEMAP_DIR" env-default:"sitemaps"`
	ShopName        string `env:"STOREFRONT_SHOP_NAME" env-default:"Витрина"`
	ShopCompany     string `env:"STOREFRONT_SHOP_COMPANY" env-default:"Витрина"`
	// FeedRefreshInterval — период фоновой постановки всех фидов и sitemap; 0 отключает.
	FeedRefreshInterval time.Duration `env:"STOREFRONT_FEED_REFRESH_INTERVAL" env-default:"24h"`

	DefaultCityName      string `env:"STOREFRONT_DEFAULT_CITY_NAME" env-default:"Москва"`
	DefaultCityGroupName string `env:"STOREFRONT_DEFAULT_CITY_GROUP_NAME" env-default:"Москва"`
	BaseDomain           string `env:"STOREFRONT_BASE_DOMAIN" env-default:"localhost"`
	StrictDefaultCity    bool   `env:"STOREFRONT_STRICT_DEFAULT_CITY" env-default:"false"`

	CodeCacheLifetime  time.Duration `env:"STOREFRONT_EMAIL_CACHE_LIFETIME" env-default:"1h"`
	CodeThrottleWindow time.Duration `env:"STOREFRONT_EMAIL_REMAINING_TIME" env-default:"2m"`
	LoginCodeLength    int           `env:"STOREFRONT_LOGIN_CODE_LENGTH" env-default:"4"`
	RegisterCodeLength int           `env:"STOREFRONT_REGISTER_CODE_LENGTH" env-default:"4"`

	JWTSecret     string        `env:"STOREFRONT_JWT_SECRET"`
	JWTAccessTTL  time.Duration `env:"STOREFRONT_JWT_ACCESS_TTL" env-default:"15m"`
	JWTRefreshTTL time.Duration `env:"STOREFRONT_JWT_REFRESH_TTL" env-default:"720h"`
	JWTIssuer     string        `env:"STOREFRONT_JWT_ISSUER" env-default:"storefront"`

	BitrixUserGetURL      string `env:"STOREFRONT_BITRIX_USER_GET_URL"`
	BitrixLeadAddURL      string `env:"STOREFRONT_BITRIX_LEAD_ADD_URL"`
	BitrixLeadUpdateURL   string `env:"STOREFRONT_BITRIX_LEAD_UPDATE_URL"`
	BitrixLeadDeleteURL   string `env:"STOREFRONT_BITRIX_LEAD_DELETE_URL"`
	BitrixLeadGetURL      string `env:"STOREFRONT_BITRIX_LEAD_GET_URL"`
	BitrixLeadListURL     string `env:"STOREFRONT_BITRIX_LEAD_LIST_URL"`
	BitrixWebhookToken    string `env:"STOREFRONT_BITRIX_WEBHOOK_TOKEN"`
	LeadAssigneeEmail     string `env:"STOREFRONT_DEFAULT_LEAD_USER_EMAIL"`
	SMSRuURL              string `env:"STOREFRONT_SMS_URL" env-default:"https://sms.ru/sms/send"`
	SMSRuAPIID            string `env:"STOREFRONT_SMS_API_ID"`
	TelegramAPIBase       string `env:"STOREFRONT_TELEGRAM_API_BASE" env-default:"https://api.telegram.org"`
	TelegramBotToken      string `env:"STOREFRONT_TELEGRAM_BOT_TOKEN"`
	TelegramChatID        string `env:"STOREFRONT_TELEGRAM_CHAT_ID"`
	SMTPHost              string `env:"STOREFRONT_SMTP_HOST"`
	SMTPPort              int    `env:"STOREFRONT_SMTP_PORT" env-default:"587"`
	SMTPUsername          string `env:"STOREFRONT_SMTP_USERNAME"`
	SMTPPassword          string `env:"STOREFRONT_SMTP_PASSWORD"`
	SMTPFrom              string `env:"STOREFRONT_SMTP_FROM"`
	AllowMockIntegrations bool   `env:"STOREFRONT_ALLOW_MOCK_INTEGRATIONS" env-default:"true"`

	// CRMBreakerMaxFailures — число сбоев Bitrix24 подряд, после которого запросы приостанавливаются.
	CRMBreakerMaxFailures  int           `env:"STOREFRONT_CRM_BREAKER_MAX_FAILURES" env-default:"5"`
	CRMBreakerResetTimeout time.Duration `env:"STOREFRONT_CRM_BREAKER_RESET_TIMEOUT" env-default:"1m"`

	ElasticAddresses string `env:"STOREFRONT_ELASTIC_ADDRESSES"`
	ElasticUsername  string `env:"STOREFRONT_ELASTIC_USERNAME"`
	ElasticPassword  string `env:"STOREFRONT_ELASTIC_PASSWORD"`
	ElasticIndex     string `env:"STOREFRONT_ELASTIC_INDEX" env-default:"products"`

	OTLPEndpoint     string  `env:"STOREFRONT_OTLP_ENDPOINT"`
	OTLPInsecure     bool    `env:"STOREFRONT_OTLP_INSECURE" env-default:"true"`
	TraceSampleRatio float64 `env:"STOREFRONT_TRACE_SAMPLE_RATIO" env-default:"1"`

	OutboxPollInterval time.Duration `env:"STOREFRONT_OUTBOX_POLL_INTERVAL" env-default:"1s"`
	OutboxBatchSize    int           `env:"STOREFRONT_OUTBOX_BATCH_SIZE" env-default:"100"`
	OutboxMaxAttempts  int           `env:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" env-default:"5"`
	OutboxRetryDelay   time.Duration `env:"STOREFRONT_OUTBOX_RETRY_DELAY" env-default:"200ms"`
	// OutboxMaxPending — размер backlog, после которого readiness сообщает degraded; 0 отключает проверку.
	OutboxMaxPending int `env:"STOREFRONT_OUTBOX_MAX_PENDING" env-default:"10000"`

	IdempotencyTTL              time.Duration `env:"STOREFRONT_IDEMPOTENCY_TTL" env-default:"24h"`
	IdempotencyCleanupInterval  time.Duration `env:"STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL" env-default:"1h"`
	IdempotencyCleanupBatchSize int           `env:"STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE" env-default:"500"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:           ":8000",
		GRPCAddr:           ":50051",
		MetricsAddr:        ":9090",
		HTTPRequestTimeout: 30 * time.Second,
		LogLevel:           "info",
		LogFormat:          "text",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		PostgresMaxConns:        25,
		PostgresConnMaxLifetime: 30 * time.Minute,

		KafkaConsumerGroup: "storefront",
		KafkaDLQTopic:      kafka.TopicDeadLetterQueue,

		BlobRoot:            "var",
		S3Region:            "ru-central1",
		MediaURL:            "/media/",
		ImageImportRoot:     "import_images",
		FeedsDir:            "feeds",
		SitemapDir:          "sitemaps",
		ShopName:            "Витрина",
		ShopCompany:         "Витрина",
		FeedRefreshInterval: 24 * time.Hour,

		DefaultCityName:      "Москва",
		DefaultCityGroupName: "Москва",
		BaseDomain:           "localhost",

		CodeCacheLifetime:  time.Hour,
		CodeThrottleWindow: 2 * time.Minute,
		LoginCodeLength:    4,
		RegisterCodeLength: 4,

		JWTAccessTTL:  15 * time.Minute,
		JWTRefreshTTL: 720 * time.Hour,
		JWTIssuer:     "storefront",

		SMSRuURL:              "https://sms.ru/sms/send",
		TelegramAPIBase:       "https://api.telegram.org",
		SMTPPort:              587,
		AllowMockIntegrations: true,

		CRMBreakerMaxFailures:  5,
		CRMBreakerResetTimeout: time.Minute,

		ElasticIndex: "products",

		OTLPInsecure:     true,
		TraceSampleRatio: 1,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,
		OutboxMaxPending:   10000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig читает конфигурацию из окружения и нормализует её.
// Предупреждения описывают значения, заменённые на значения по умолчанию.
func LoadConfig() (Config, []string, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("read environment: %w", err)
	}
	warnings := cfg.Normalize()
	return cfg, warnings, nil
}

// Normalize приводит строковые значения к каноническому виду и заменяет недопустимые
// числовые значения значениями по умолчанию.
func (c *Config) Normalize() []string {
	def := DefaultConfig()
	var warnings []string
	warn := func(name string, got, fallback any) {
		warnings = append(warnings, fmt.Sprintf("%s=%v is invalid, using %v", name, got, fallback))
	}

	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	if c.OutboxPollInterval <= 0 {
		warn("outbox poll interval", c.OutboxPollInterval, def.OutboxPollInterval)
		c.OutboxPollInterval = def.OutboxPollInterval
	}
	if c.OutboxBatchSize <= 0 {
		warn("outbox batch size", c.OutboxBatchSize, def.OutboxBatchSize)
		c.OutboxBatchSize = def.OutboxBatchSize
	}
	if c.OutboxMaxAttempts <= 0 {
		warn("outbox max attempts", c.OutboxMaxAttempts, def.OutboxMaxAttempts)
		c.OutboxMaxAttempts = def.OutboxMaxAttempts
	}
	if c.OutboxRetryDelay < 0 {
		warn("outbox retry delay", c.OutboxRetryDelay, def.OutboxRetryDelay)
		c.OutboxRetryDelay = def.OutboxRetryDelay
	}
	if c.OutboxMaxPending < 0 {
		warn("outbox max pending", c.OutboxMaxPending, def.OutboxMaxPending)
		c.OutboxMaxPending = def.OutboxMaxPending
	}
	if c.CRMBreakerMaxFailures <= 0 {
		warn("crm breaker max failures", c.CRMBreakerMaxFailures, def.CRMBreakerMaxFailures)
		c.CRMBreakerMaxFailures = def.CRMBreakerMaxFailures
	}
	if c.CRMBreakerResetTimeout <= 0 {
		warn("crm breaker reset timeout", c.CRMBreakerResetTimeout, def.CRMBreakerResetTimeout)
		c.CRMBreakerResetTimeout = def.CRMBreakerResetTimeout
	}
	if c.IdempotencyTTL <= 0 {
		warn("idempotency ttl", c.IdempotencyTTL, def.IdempotencyTTL)
		c.IdempotencyTTL = def.IdempotencyTTL
	}
	if c.IdempotencyCleanupInterval <= 0 {
		warn("idempotency cleanup interval", c.IdempotencyCleanupInterval, def.IdempotencyCleanupInterval)
		c.IdempotencyCleanupInterval = def.IdempotencyCleanupInterval
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		warn("idempotency cleanup batch size", c.IdempotencyCleanupBatchSize, def.IdempotencyCleanupBatchSize)
		c.IdempotencyCleanupBatchSize = def.IdempotencyCleanupBatchSize
	}
	if c.LoginCodeLength <= 0 {
		warn("login code length", c.LoginCodeLength, def.LoginCodeLength)
		c.LoginCodeLength = def.LoginCodeLength
	}
	if c.RegisterCodeLength <= 0 {
		warn("register code length", c.RegisterCodeLength, def.RegisterCodeLength)
		c.RegisterCodeLength = def.RegisterCodeLength
	}
	if c.CodeThrottleWindow <= 0 {
		warn("code throttle window", c.CodeThrottleWindow, def.CodeThrottleWindow)
		c.CodeThrottleWindow = def.CodeThrottleWindow
	}
	if c.CodeCacheLifetime < c.CodeThrottleWindow {
		warn("code cache lifetime", c.CodeCacheLifetime, c.CodeThrottleWindow)
		c.CodeCacheLifetime = c.CodeThrottleWindow
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		warn("trace sample ratio", c.TraceSampleRatio, def.TraceSampleRatio)
		c.TraceSampleRatio = def.TraceSampleRatio
	}
	if c.FeedRefreshInterval < 0 {
		warn("feed refresh interval", c.FeedRefreshInterval, 0)
		c.FeedRefreshInterval = 0
	}
	return warnings
}

// kafkaBrokers разбирает список брокеров через запятую.
func (c Config) kafkaBrokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
