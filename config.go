package helpdesk

import (
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

// ErrEmptyToken is returned when the bot token is not configured.
var ErrEmptyToken = errm.New("token cannot be empty")

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageMongo    = "mongo"
	StorageRedis    = "redis"
	StorageDynamoDB = "dynamodb"
)

// Config contains helpdesk configuration.
//
// You can use environment variables to fill it:
// HELPDESK_TOKEN - bot token
// HELPDESK_SUPPORT_CHAT_ID - id of the support supergroup
// HELPDESK_ADMIN_IDS - comma separated ids of support admins, empty means everyone in the support chat
// HELPDESK_STORAGE - storage backend: memory, mongo, redis or dynamodb
// HELPDESK_DEBUG - enable debug logs
type Config struct {
	// Token is the Telegram bot token.
	// Environment variable: HELPDESK_TOKEN.
	Token string `yaml:"token" json:"token" env:"HELPDESK_TOKEN"`

	// SupportChatID is the id of the support supergroup, usually negative.
	// Environment variable: HELPDESK_SUPPORT_CHAT_ID.
	SupportChatID int64 `yaml:"support_chat_id" json:"support_chat_id" env:"HELPDESK_SUPPORT_CHAT_ID"`

	// AdminIDs are users that may reply and use commands in the support chat.
	// Empty list means every member of the support chat is an admin.
	// Environment variable: HELPDESK_ADMIN_IDS.
	AdminIDs []int64 `yaml:"admin_ids" json:"admin_ids" env:"HELPDESK_ADMIN_IDS" env-separator:","`

	// Storage is the key-value backend.
	// Default: "memory".
	// Environment variable: HELPDESK_STORAGE.
	Storage string `yaml:"storage" json:"storage" env:"HELPDESK_STORAGE"`

	Mongo  DatabaseConfig `yaml:"mongo" json:"mongo"`
	Redis  RedisConfig    `yaml:"redis" json:"redis"`
	Dynamo DynamoConfig   `yaml:"dynamo" json:"dynamo"`
	Kafka  KafkaConfig    `yaml:"kafka" json:"kafka"`

	// Archive enables storing every ticket state in the MongoDB "tickets" collection.
	// It requires Mongo settings even if Storage is not "mongo".
	// Environment variable: HELPDESK_ARCHIVE.
	Archive bool `yaml:"archive" json:"archive" env:"HELPDESK_ARCHIVE"`

	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`

	// PollTimeout is the long polling timeout.
	// Default: 15 seconds.
	// Environment variable: HELPDESK_POLL_TIMEOUT.
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout" env:"HELPDESK_POLL_TIMEOUT"`

	// Workers is the number of updates processed at the same time.
	// Default: 100.
	// Environment variable: HELPDESK_WORKERS.
	Workers int `yaml:"workers" json:"workers" env:"HELPDESK_WORKERS"`

	// EventTimeout limits processing of one update including retries.
	// Default: 60 seconds.
	// Environment variable: HELPDESK_EVENT_TIMEOUT.
	EventTimeout time.Duration `yaml:"event_timeout" json:"event_timeout" env:"HELPDESK_EVENT_TIMEOUT"`

	// RateLimit contains per-user message throttling settings.
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// TelegramRPS limits outgoing Bot API calls per second.
	// Default: 25.
	// Environment variable: HELPDESK_TELEGRAM_RPS.
	TelegramRPS float64 `yaml:"telegram_rps" json:"telegram_rps" env:"HELPDESK_TELEGRAM_RPS"`

	// CacheSize is the capacity of the read-through cache over the storage. Zero disables it.
	// Default: 10000.
	// Environment variable: HELPDESK_CACHE_SIZE.
	CacheSize *int `yaml:"cache_size" json:"cache_size" env:"HELPDESK_CACHE_SIZE"`

	// CacheTTL is the lifetime of cached values.
	// Default: 30 seconds.
	// Environment variable: HELPDESK_CACHE_TTL.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"HELPDESK_CACHE_TTL"`

	// Offline creates the bot without calling getMe, it is used in tests.
	Offline bool `yaml:"-" json:"-"`

	// Debug is a flag that enables debug logs.
	// Environment variable: HELPDESK_DEBUG.
	Debug bool `yaml:"debug" json:"debug" env:"HELPDESK_DEBUG"`
}

// WebhookConfig contains settings of the webhook server.
//
// You can use environment variables to fill it:
// HELPDESK_WEBHOOK_URL - public URL registered in Telegram, its path is served by the server
// HELPDESK_WEBHOOK_LISTEN - listen address, default ":8080"
// HELPDESK_WEBHOOK_SECRET - secret token checked in X-Telegram-Bot-Api-Secret-Token
type WebhookConfig struct {
	URL    string `yaml:"url" json:"url" env:"HELPDESK_WEBHOOK_URL"`
	Listen string `yaml:"listen" json:"listen" env:"HELPDESK_WEBHOOK_LISTEN"`
	Secret string `yaml:"secret" json:"secret" env:"HELPDESK_WEBHOOK_SECRET"`

	// MaxConnections is passed to setWebhook.
	// Default: 40.
	MaxConnections int `yaml:"max_connections" json:"max_connections" env:"HELPDESK_WEBHOOK_MAX_CONNECTIONS"`

	// DropPendingUpdates drops updates that arrived while the webhook was not set.
	DropPendingUpdates bool `yaml:"drop_pending_updates" json:"drop_pending_updates" env:"HELPDESK_WEBHOOK_DROP_PENDING"`

	// ReadTimeout is the HTTP server read timeout.
	// Default: 10 seconds.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout" env:"HELPDESK_WEBHOOK_READ_TIMEOUT"`

	path string
}

// Path returns the path of the webhook endpoint.
func (cfg WebhookConfig) Path() string {
	return lang.Check(cfg.path, "/")
}

// Read reads configuration from the file if it is provided and from environment variables.
func (cfg *Config) Read(fileName ...string) error {
	if len(fileName) > 0 && fileName[0] != "" {
		return cleanenv.ReadConfig(fileName[0], cfg)
	}
	return cleanenv.ReadEnv(cfg)
}

func (cfg *Config) prepareAndValidate() error {
	if cfg.Token == "" && !cfg.Offline {
		return ErrEmptyToken
	}

	cfg.Storage = lang.Check(cfg.Storage, StorageMemory)
	cfg.PollTimeout = lang.Check(cfg.PollTimeout, 15*time.Second)
	cfg.Workers = lang.Check(cfg.Workers, 100)
	cfg.EventTimeout = lang.Check(cfg.EventTimeout, time.Minute)
	cfg.TelegramRPS = lang.Check(cfg.TelegramRPS, float64(defaultTelegramRPS))
	cfg.CacheSize = lang.Ptr(lang.CheckPtr(cfg.CacheSize, 10000))
	cfg.CacheTTL = lang.Check(cfg.CacheTTL, 30*time.Second)

	cfg.Webhook.Listen = lang.Check(cfg.Webhook.Listen, ":8080")
	cfg.Webhook.MaxConnections = lang.Check(cfg.Webhook.MaxConnections, 40)
	cfg.Webhook.ReadTimeout = lang.Check(cfg.Webhook.ReadTimeout, 10*time.Second)
	if cfg.Webhook.URL != "" {
		u, err := url.ParseRequestURI(cfg.Webhook.URL)
		if err != nil {
			return errm.Wrap(err, "invalid webhook url")
		}
		cfg.Webhook.path = u.Path
	}

	err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.SupportChatID, validation.Required),
		validation.Field(&cfg.Storage, validation.In(StorageMemory, StorageMongo, StorageRedis, StorageDynamoDB)),
		validation.Field(&cfg.Workers, validation.Min(1)),
		validation.Field(&cfg.PollTimeout, validation.Min(time.Second)),
		validation.Field(&cfg.CacheTTL, validation.Min(time.Second)),
	)
	if err != nil {
		return err
	}

	switch cfg.Storage {
	case StorageMongo:
		err = cfg.Mongo.Validate()
	case StorageRedis:
		err = cfg.Redis.Validate()
	case StorageDynamoDB:
		err = cfg.Dynamo.Validate()
	}
	if err != nil {
		return errm.Wrap(err, "storage config", "storage", cfg.Storage)
	}

	if cfg.Archive {
		if err := cfg.Mongo.Validate(); err != nil {
			return errm.Wrap(err, "archive config")
		}
	}

	return nil
}
