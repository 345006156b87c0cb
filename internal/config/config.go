package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"email-guard/internal/util"
)

var global *Config

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Environment string

	Server        ServerConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Logging       LoggingConfig
	Protection    ProtectionConfig
	Admin         AdminConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type AdminConfig struct {
	Token string
}

// ProtectionConfig carries every threshold and window used by the abuse
// protection layer. Defaults match the tuned production values; each can be
// overridden through the environment for load tests.
type ProtectionConfig struct {
	FrequencyMinInterval time.Duration // minimum gap between sends per address
	FrequencyEntryTTL    time.Duration // lifetime of an email-freq entry

	OTPAttemptThreshold int           // failed attempts before lockout
	OTPLockoutWindow    time.Duration // lockout duration / attempt counter TTL

	PatternWindow       time.Duration // rolling window for request volume
	PatternMaxRequests  int           // requests in window before block
	PatternMaxEmails    int           // distinct target addresses before block
	PatternMaxAgents    int           // distinct user agents before block
	PatternHistorySize  int           // tracked entries per list
	PatternRecordTTL    time.Duration // pattern record expiry
	VolumeBlockDuration time.Duration // block after volume trigger
	EnumBlockDuration   time.Duration // block after enumeration trigger
	AgentBlockDuration  time.Duration // block after user-agent trigger

	AbuseLogRetention    time.Duration // abuse-log entry TTL in Redis
	DefaultBlockDuration time.Duration // admin block without explicit duration
}

// LoadConfig reads the environment (optionally seeded from a .env file) and
// assembles the full configuration.
func LoadConfig() *Config {
	// Missing .env is fine; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("SERVER_AUTOCERT_DIR", "/var/cache/email-guard/certs"),
			Email:        util.GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Enabled: util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers: util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   util.GetEnv("KAFKA_ABUSE_TOPIC", "abuse-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: util.GetEnv("CLICKHOUSE_USER", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "email_guard"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USER", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_ABUSE_INDEX", "abuse-logs"),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Admin: AdminConfig{
			Token: util.GetEnv("ADMIN_API_TOKEN", ""),
		},
		Protection: ProtectionConfig{
			FrequencyMinInterval: util.GetEnvDuration("FREQ_MIN_INTERVAL", 30*time.Second),
			FrequencyEntryTTL:    util.GetEnvDuration("FREQ_ENTRY_TTL", 180*time.Second),
			OTPAttemptThreshold:  util.GetEnvInt("OTP_ATTEMPT_THRESHOLD", 8),
			OTPLockoutWindow:     util.GetEnvDuration("OTP_LOCKOUT_WINDOW", 15*time.Minute),
			PatternWindow:        util.GetEnvDuration("PATTERN_WINDOW", time.Hour),
			PatternMaxRequests:   util.GetEnvInt("PATTERN_MAX_REQUESTS", 25),
			PatternMaxEmails:     util.GetEnvInt("PATTERN_MAX_EMAILS", 12),
			PatternMaxAgents:     util.GetEnvInt("PATTERN_MAX_AGENTS", 8),
			PatternHistorySize:   util.GetEnvInt("PATTERN_HISTORY_SIZE", 20),
			PatternRecordTTL:     util.GetEnvDuration("PATTERN_RECORD_TTL", 24*time.Hour),
			VolumeBlockDuration:  util.GetEnvDuration("VOLUME_BLOCK_DURATION", 30*time.Minute),
			EnumBlockDuration:    util.GetEnvDuration("ENUM_BLOCK_DURATION", 20*time.Minute),
			AgentBlockDuration:   util.GetEnvDuration("AGENT_BLOCK_DURATION", 30*time.Minute),
			AbuseLogRetention:    util.GetEnvDuration("ABUSE_LOG_RETENTION", 7*24*time.Hour),
			DefaultBlockDuration: util.GetEnvDuration("DEFAULT_BLOCK_DURATION", time.Hour),
		},
	}

	global = cfg
	return cfg
}

// Get returns the last loaded configuration.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
