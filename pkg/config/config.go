package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SMARTPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SMARTPAY_APP_ENV"
	EnvPort     = "SMARTPAY_APP_PORT"
	EnvDBDSN    = "SMARTPAY_DB_DSN"
	EnvDBDriver = "SMARTPAY_DB_DRIVER"
	EnvDBHost   = "SMARTPAY_DB_HOST"
	EnvDBUser   = "SMARTPAY_DB_USER"
	EnvDBName   = "SMARTPAY_DB_NAME"

	EnvRedisURL     = "SMARTPAY_REDIS_URL"
	EnvGCPProjectID = "SMARTPAY_GCP_PROJECT_ID"
	EnvSettleTopic  = "SMARTPAY_PUBSUB_SETTLEMENT_TOPIC"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Settlement    SettlementConfig
	Notifications NotificationsConfig
	Lanes         LanesConfig
	RateLimit     RateLimitConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SMARTPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"SMARTPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SMARTPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SMARTPAY_LOG_WARN_STACK" default:"false"`
	StoreName    string `envconfig:"SMARTPAY_STORE_NAME" default:"SmartPay"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SMARTPAY_DB_DSN"`
	Driver string `envconfig:"SMARTPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SMARTPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"SMARTPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SMARTPAY_DB_USER"`
	LegacyPassword string `envconfig:"SMARTPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"SMARTPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"SMARTPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SMARTPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SMARTPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SMARTPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SMARTPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this; zero disables.
	SlowQueryThreshold time.Duration `envconfig:"SMARTPAY_DB_SLOW_QUERY" default:"250ms"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SMARTPAY_REDIS_URL"`
	Address      string        `envconfig:"SMARTPAY_REDIS_ADDR"`
	Password     string        `envconfig:"SMARTPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SMARTPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SMARTPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SMARTPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SMARTPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SMARTPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SMARTPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SMARTPAY_AUTO_MIGRATE" default:"false"`
}

type SettlementConfig struct {
	Timeout        time.Duration `envconfig:"SMARTPAY_SETTLEMENT_TIMEOUT" default:"10s"`
	IdempotencyTTL time.Duration `envconfig:"SMARTPAY_SETTLEMENT_IDEMPOTENCY_TTL" default:"168h"`
}

type NotificationsConfig struct {
	Workers        int           `envconfig:"SMARTPAY_NOTIFY_WORKERS" default:"4"`
	QueueSize      int           `envconfig:"SMARTPAY_NOTIFY_QUEUE_SIZE" default:"256"`
	HandoffTimeout time.Duration `envconfig:"SMARTPAY_NOTIFY_HANDOFF_TIMEOUT" default:"50ms"`
	SendTimeout    time.Duration `envconfig:"SMARTPAY_NOTIFY_SEND_TIMEOUT" default:"15s"`

	SMTPHost     string `envconfig:"SMARTPAY_SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMARTPAY_SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMARTPAY_SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMARTPAY_SMTP_PASSWORD"`
	FromEmail    string `envconfig:"SMARTPAY_SMTP_FROM_EMAIL"`

	SMSGatewayURL   string `envconfig:"SMARTPAY_SMS_GATEWAY_URL"`
	SMSGatewayToken string `envconfig:"SMARTPAY_SMS_GATEWAY_TOKEN"`
	SMSSenderID     string `envconfig:"SMARTPAY_SMS_SENDER_ID" default:"SMRTPY"`
}

// EmailEnabled reports whether SMTP delivery is configured.
func (n NotificationsConfig) EmailEnabled() bool {
	return strings.TrimSpace(n.SMTPHost) != "" && strings.TrimSpace(n.FromEmail) != ""
}

// SMSEnabled reports whether the SMS gateway is configured.
func (n NotificationsConfig) SMSEnabled() bool {
	return strings.TrimSpace(n.SMSGatewayURL) != ""
}

type LanesConfig struct {
	BindingTTL time.Duration `envconfig:"SMARTPAY_LANE_BINDING_TTL" default:"30m"`
}

type RateLimitConfig struct {
	CheckoutWindow      time.Duration `envconfig:"SMARTPAY_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPLimit     int           `envconfig:"SMARTPAY_RATE_LIMIT_CHECKOUT_IP" default:"120"`
	CheckoutDeviceLimit int           `envconfig:"SMARTPAY_RATE_LIMIT_CHECKOUT_DEVICE" default:"30"`
	CheckoutUserLimit   int           `envconfig:"SMARTPAY_RATE_LIMIT_CHECKOUT_USER" default:"10"`
	ScanWindow          time.Duration `envconfig:"SMARTPAY_RATE_LIMIT_SCAN_WINDOW" default:"1m"`
	ScanDeviceLimit     int           `envconfig:"SMARTPAY_RATE_LIMIT_SCAN_DEVICE" default:"600"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SMARTPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SMARTPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SMARTPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic       string `envconfig:"SMARTPAY_PUBSUB_SETTLEMENT_TOPIC" default:"smartpay-settlement-events"`
	AnalyticsSubscription string `envconfig:"SMARTPAY_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"smartpay-settlement-analytics"`
}

type BigQueryConfig struct {
	Dataset              string `envconfig:"SMARTPAY_BIGQUERY_DATASET" default:"smartpay"`
	SettlementsTable     string `envconfig:"SMARTPAY_BIGQUERY_SETTLEMENTS_TABLE" default:"settlement_facts"`
	SettlementLinesTable string `envconfig:"SMARTPAY_BIGQUERY_SETTLEMENT_LINES_TABLE" default:"settlement_line_facts"`
	CreateMissing        bool   `envconfig:"SMARTPAY_BIGQUERY_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SMARTPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SMARTPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SMARTPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"SMARTPAY_OUTBOX_IDEMPOTENCY_TTL" default:"168h"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"SMARTPAY_CRON_INTERVAL" default:"1h"`
	LockTTL         time.Duration `envconfig:"SMARTPAY_CRON_LOCK_TTL" default:"30m"`
	JobTimeout      time.Duration `envconfig:"SMARTPAY_CRON_JOB_TIMEOUT" default:"10m"`
	OutboxRetention time.Duration `envconfig:"SMARTPAY_CRON_OUTBOX_RETENTION" default:"720h"`
	AuditWindow     time.Duration `envconfig:"SMARTPAY_CRON_AUDIT_WINDOW" default:"25h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
