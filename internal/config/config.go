package config

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-io-live/chat-sync/pkg/config"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/database"
	"github.com/weiawesome/wes-io-live/chat-sync/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	Redis     RedisConfig
	Backplane BackplaneConfig
	Kafka     pubsub.KafkaConfig
	Presence  PresenceConfig
	Sync      SyncConfig
	Cache     CacheConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	// RateLimit is events per second per connection; Burst is the bucket size.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// BackplaneConfig selects the fan-out driver: local (single instance),
// redis or kafka.
type BackplaneConfig struct {
	Driver     string
	Channel    string
	InstanceID string `mapstructure:"instance_id"`
}

type PresenceConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	TypingTTL       time.Duration `mapstructure:"typing_ttl"`
}

type SyncConfig struct {
	MaxBatch int `mapstructure:"max_batch"`
}

type CacheConfig struct {
	Prefix string
	TTL    time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("backplane.driver", "BACKPLANE_DRIVER")
	v.BindEnv("backplane.instance_id", "INSTANCE_ID")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.TokenDuration = parseDuration(v, "auth.token_duration", 24*time.Hour)
	cfg.Presence.TTL = parseDuration(v, "presence.ttl", 90*time.Second)
	cfg.Presence.RefreshInterval = parseDuration(v, "presence.refresh_interval", 30*time.Second)
	cfg.Presence.TypingTTL = parseDuration(v, "presence.typing_ttl", 5*time.Second)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", 30*time.Second)

	if cfg.Backplane.InstanceID == "" {
		cfg.Backplane.InstanceID = defaultInstanceID()
	}
	cfg.Kafka.InstanceID = cfg.Backplane.InstanceID

	return &cfg, nil
}

// defaultInstanceID is unique per process. Replicas can share a hostname,
// and the backplane drops events carrying its own id.
func defaultInstanceID() string {
	suffix := uuid.New().String()[:8]
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + suffix
	}
	return suffix
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.rate_limit", 20)
	v.SetDefault("websocket.burst", 40)
	v.SetDefault("auth.issuer", "chat-sync")
	v.SetDefault("auth.token_duration", "24h")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat-sync.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("backplane.driver", "redis")
	v.SetDefault("backplane.channel", pubsub.ChannelBackplane)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.group_id", "chat-sync")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("presence.ttl", "90s")
	v.SetDefault("presence.refresh_interval", "30s")
	v.SetDefault("presence.typing_ttl", "5s")
	v.SetDefault("sync.max_batch", 500)
	v.SetDefault("cache.prefix", "chat:cache")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("log.level", "info")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	return pkgconfig.Duration(v.GetString(key), defaultVal)
}
