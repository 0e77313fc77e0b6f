package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Feed        FeedConfig
	Engagements EngagementConfig
	Media       MediaConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// DSN renders the libpq connection string shared by the pool and the change-feed listener.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig verifies access tokens minted by the external auth provider.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// FeedConfig tunes the realtime request board.
type FeedConfig struct {
	Limit             int
	SubscriberBuffer  int
	MinReconnect      time.Duration
	MaxReconnect      time.Duration
	DispatchQueueSize int
}

// EngagementConfig controls caching of aggregated engagement views.
// Cached views are dropped on registration writes. Accepted-request rows and request texts
// changed outside this service stay stale for up to CacheTTL; expiry state is recomputed on read.
type EngagementConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// MediaConfig describes how stored image references become displayable URLs.
type MediaConfig struct {
	StorageDir      string
	BaseURL         string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	PlaceholderURL  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	limit := v.GetInt("FEED_LIMIT")
	if limit <= 0 {
		limit = 20
	}
	cfg.Feed = FeedConfig{
		Limit:             limit,
		SubscriberBuffer:  v.GetInt("FEED_SUBSCRIBER_BUFFER"),
		MinReconnect:      parseDuration(v.GetString("FEED_MIN_RECONNECT"), 10*time.Second),
		MaxReconnect:      parseDuration(v.GetString("FEED_MAX_RECONNECT"), time.Minute),
		DispatchQueueSize: v.GetInt("FEED_DISPATCH_QUEUE_SIZE"),
	}

	cfg.Engagements = EngagementConfig{
		CacheEnabled: v.GetBool("ENGAGEMENT_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("ENGAGEMENT_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Media = MediaConfig{
		StorageDir:      v.GetString("MEDIA_STORAGE_DIR"),
		BaseURL:         strings.TrimRight(v.GetString("MEDIA_BASE_URL"), "/"),
		SignedURLSecret: v.GetString("MEDIA_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("MEDIA_SIGNED_URL_TTL"), time.Hour),
		PlaceholderURL:  v.GetString("MEDIA_PLACEHOLDER_URL"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tutor_match")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("FEED_LIMIT", 20)
	v.SetDefault("FEED_SUBSCRIBER_BUFFER", 64)
	v.SetDefault("FEED_MIN_RECONNECT", "10s")
	v.SetDefault("FEED_MAX_RECONNECT", "1m")
	v.SetDefault("FEED_DISPATCH_QUEUE_SIZE", 256)

	v.SetDefault("ENGAGEMENT_CACHE_ENABLED", false)
	v.SetDefault("ENGAGEMENT_CACHE_TTL", "2m")

	v.SetDefault("MEDIA_STORAGE_DIR", "./media")
	v.SetDefault("MEDIA_BASE_URL", "http://localhost:8080/media")
	v.SetDefault("MEDIA_SIGNED_URL_SECRET", "dev_media_secret")
	v.SetDefault("MEDIA_SIGNED_URL_TTL", "1h")
	v.SetDefault("MEDIA_PLACEHOLDER_URL", "https://via.placeholder.com/150")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
