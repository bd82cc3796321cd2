package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"wayfarer-backend/pkg/constants"
	"wayfarer-backend/pkg/env"
)

// Config holds all configuration for the relay service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cassandra CassandraConfig `mapstructure:"cassandra"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	NATS      NATSConfig      `mapstructure:"nats"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Push      PushConfig      `mapstructure:"push"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Environment    string   `mapstructure:"env"` // development, staging, production
	ServiceName    string   `mapstructure:"service_name"`
	NodeID         string   `mapstructure:"node_id"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RateLimit is the REST request budget per user (or IP) per RateWindow
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
	// RequestTimeout bounds each REST request; the websocket is exempt
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RelayConfig tunes the websocket relay
type RelayConfig struct {
	MaxConnections int           `mapstructure:"max_connections"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	Bus            string        `mapstructure:"bus"`         // none, redis, nats
	BusChannel     string        `mapstructure:"bus_channel"` // redis pub/sub channel
	PresenceTTL    time.Duration `mapstructure:"presence_ttl"`
}

type ChatConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	AttachmentURLTTL time.Duration `mapstructure:"attachment_url_ttl"`
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CassandraConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MinIOConfig points at the bucket holding chat attachments
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Audience string `mapstructure:"audience"`
}

// PushConfig selects the offline notification provider
type PushConfig struct {
	Provider            string `mapstructure:"provider"` // mock, firebase, apns
	FirebaseProjectID   string `mapstructure:"firebase_project_id"`
	FirebaseCredentials string `mapstructure:"firebase_credentials"`
	APNSKeyPath         string `mapstructure:"apns_key_path"`
	APNSKeyID           string `mapstructure:"apns_key_id"`
	APNSTeamID          string `mapstructure:"apns_team_id"`
	APNSTopic           string `mapstructure:"apns_topic"`
	APNSProduction      bool   `mapstructure:"apns_production"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, text
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// Load reads defaults, then the optional CONFIG_FILE (yaml), then the environment.
// Keys map to env vars by upper-casing and replacing dots, so redis.host is REDIS_HOST.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := env.GetString("CONFIG_FILE", ""); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Docker secrets win over plain env
	cfg.Database.Password = env.GetStringFromFile("DB_PASSWORD", cfg.Database.Password)
	cfg.Redis.Password = env.GetStringFromFile("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.MinIO.SecretKey = env.GetStringFromFile("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.JWT.Secret = env.GetStringFromFile("JWT_SECRET", cfg.JWT.Secret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.service_name", "relay-service")
	v.SetDefault("server.node_id", "")
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1"})
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_window", time.Minute)
	v.SetDefault("server.request_timeout", constants.DefaultTimeout)

	v.SetDefault("relay.max_connections", 10000)
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.ping_interval", constants.WebSocketPingInterval)
	v.SetDefault("relay.write_wait", constants.WebSocketWriteWait)
	v.SetDefault("relay.max_message_size", 64*1024)
	v.SetDefault("relay.bus", "none")
	v.SetDefault("relay.bus_channel", "relay:envelopes")
	v.SetDefault("relay.presence_ttl", constants.PresenceTTL)

	v.SetDefault("chat.max_message_length", constants.MaxMessageLength)
	v.SetDefault("chat.attachment_url_ttl", constants.AttachmentURLExpiry)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 26257)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "wayfarer")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.max_conns", 25)
	v.SetDefault("db.min_conns", 5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)

	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "wayfarer")
	v.SetDefault("cassandra.consistency", "QUORUM")
	v.SetDefault("cassandra.timeout", 600*time.Millisecond)

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minioadmin")
	v.SetDefault("minio.secret_key", "minioadmin")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "chat-attachments")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "relay.envelopes")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.audience", "wayfarer-api")

	v.SetDefault("push.provider", "mock")
	v.SetDefault("push.firebase_project_id", "")
	v.SetDefault("push.firebase_credentials", "")
	v.SetDefault("push.apns_key_path", "")
	v.SetDefault("push.apns_key_id", "")
	v.SetDefault("push.apns_team_id", "")
	v.SetDefault("push.apns_topic", "")
	v.SetDefault("push.apns_production", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "/logs/relay.log")
}

// Validate rejects configurations the relay cannot run with
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	switch c.Relay.Bus {
	case "none", "redis", "nats":
	default:
		return fmt.Errorf("RELAY_BUS must be one of none, redis, nats (got %q)", c.Relay.Bus)
	}

	if c.Relay.PingInterval <= 0 || c.Relay.WriteWait <= 0 {
		return fmt.Errorf("relay ping interval and write wait must be positive")
	}
	if c.Relay.MaxConnections <= 0 {
		return fmt.Errorf("RELAY_MAX_CONNECTIONS must be positive")
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_LENGTH must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
