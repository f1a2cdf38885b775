package config

import (
	"time"

	pkgconfig "github.com/sparkmeet/messaging/pkg/config"
	"github.com/sparkmeet/messaging/pkg/log"
	"github.com/sparkmeet/messaging/pkg/pubsub"
)

type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig
	Session    SessionConfig
	Moderation ModerationConfig
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Audit      AuditConfig
	Database   DatabaseConfig
	PubSub     pubsub.Config
	Log        log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type SessionConfig struct {
	RefreshThreshold    time.Duration `mapstructure:"refresh_threshold"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	MaxRefreshAttempts  int           `mapstructure:"max_refresh_attempts"`
}

type ModerationConfig struct {
	APIURL           string        `mapstructure:"api_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
}

type RateLimitConfig struct {
	Window               time.Duration `mapstructure:"window"`
	MaxMessagesPerWindow int           `mapstructure:"max_messages_per_window"`
}

type AuditConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type DatabaseConfig struct {
	Driver   string // postgres, sqlite
	DSN      string
	FilePath string `mapstructure:"file_path"` // sqlite only
}

// Load reads configuration from ./config/config.yaml and the environment.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("session.refresh_threshold", "5m")
	v.SetDefault("session.health_check_interval", "10m")
	v.SetDefault("session.max_refresh_attempts", 3)
	v.SetDefault("moderation.api_url", "")
	v.SetDefault("moderation.api_key", "")
	v.SetDefault("moderation.timeout", "30s")
	v.SetDefault("moderation.max_message_length", 1000)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max_messages_per_window", 30)
	v.SetDefault("audit.batch_size", 10)
	v.SetDefault("audit.flush_interval", "30s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "messaging.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "messaging-core")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "messaging-core")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("moderation.api_url", "MODERATION_API_URL")
	v.BindEnv("moderation.api_key", "MODERATION_API_KEY")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
