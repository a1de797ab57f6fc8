package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	KVBackendPostgres = "postgres"
	KVBackendRedis    = "redis"
	KVBackendMemory   = "memory"

	StorageBackendS3     = "s3"
	StorageBackendMemory = "memory"
)

type Config struct {
	ListenAddr    string
	GatewayDomain string
	AdminToken    string

	SessionCookieName string
	SessionTTL        time.Duration
	LoginMaxAttempts  int
	LoginWindow       time.Duration

	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64

	RateLimit       int
	RateLimitWindow time.Duration
	ClientIPHeader  string

	KVBackend     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	StorageBackend string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	AccessLogRetention time.Duration
	PurgeInterval      time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		GatewayDomain:      strings.ToLower(os.Getenv("GATEWAY_DOMAIN")),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "site_session"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 24*time.Hour),
		LoginMaxAttempts:   getEnvInt("LOGIN_MAX_ATTEMPTS", 10),
		LoginWindow:        getEnvDuration("LOGIN_WINDOW", 5*time.Minute),
		MaxFiles:           getEnvInt("MAX_FILES", 1000),
		MaxFileBytes:       int64(getEnvInt("MAX_FILE_BYTES", 25<<20)),
		MaxTotalBytes:      int64(getEnvInt("MAX_TOTAL_BYTES", 100<<20)),
		RateLimit:          getEnvInt("RATE_LIMIT", 300),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		ClientIPHeader:     os.Getenv("CLIENT_IP_HEADER"),
		KVBackend:          getEnv("KV_BACKEND", KVBackendPostgres),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		PostgresUser:       getEnv("POSTGRES_USER", "gateway"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:   getEnv("POSTGRES_DATABASE", "site_gateway"),
		PostgresSSLMode:    getEnv("POSTGRES_SSL_MODE", "disable"),
		StorageBackend:     getEnv("STORAGE_BACKEND", StorageBackendS3),
		S3Bucket:           getEnv("S3_BUCKET", "sites"),
		S3Region:           getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3AccessKey:        os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey:        os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AccessLogRetention: getEnvDuration("ACCESS_LOG_RETENTION", 7*24*time.Hour),
		PurgeInterval:      getEnvDuration("PURGE_INTERVAL", 30*time.Minute),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.GatewayDomain == "" {
		return errors.New("missing required environment variable: GATEWAY_DOMAIN")
	}
	if c.AdminToken == "" {
		return errors.New("missing required environment variable: ADMIN_TOKEN")
	}

	switch c.KVBackend {
	case KVBackendPostgres, KVBackendRedis, KVBackendMemory:
	default:
		return fmt.Errorf("unknown KV_BACKEND %q", c.KVBackend)
	}

	switch c.StorageBackend {
	case StorageBackendS3:
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			return errors.New("AWS credentials must be provided for the s3 storage backend")
		}
	case StorageBackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.LoginMaxAttempts <= 0 || c.LoginWindow <= 0 {
		return errors.New("LOGIN_MAX_ATTEMPTS and LOGIN_WINDOW must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.RateLimit > 0 && c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive when RATE_LIMIT is set")
	}
	if c.PurgeInterval <= 0 {
		return errors.New("PURGE_INTERVAL must be positive")
	}
	return nil
}

// MaxRequestBytes bounds an admin request body: the aggregate file cap
// inflated by base64 plus room for the JSON envelope.
func (c *Config) MaxRequestBytes() int64 {
	return c.MaxTotalBytes*4/3 + int64(c.MaxFiles)*1024 + 1<<20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
