package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Gateway backends understood by GATEWAY_BACKEND.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"console"`

	JWTSecret string `env:"JWT_SECRET"`

	GatewayBackend string `env:"GATEWAY_BACKEND" envDefault:"memory"`

	DBHost     string `env:"DB_HOST"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"require"`

	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`

	// RedisURL enables change-event streams and the content ID index.
	// Empty keeps the engine single-session.
	RedisURL string `env:"REDIS_URL"`

	MediaEndpoint  string `env:"MEDIA_ENDPOINT"`
	MediaRegion    string `env:"MEDIA_REGION" envDefault:"auto"`
	MediaAccessKey string `env:"MEDIA_ACCESS_KEY_ID"`
	MediaSecretKey string `env:"MEDIA_SECRET_ACCESS_KEY"`
	MediaBucket    string `env:"MEDIA_BUCKET"`
	MediaPublicURL string `env:"MEDIA_PUBLIC_URL"`

	ProfileTTL     time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
	FollowCountTTL time.Duration `env:"FOLLOW_COUNT_CACHE_TTL" envDefault:"2m"`
	FallbackTTL    time.Duration `env:"FALLBACK_CACHE_TTL" envDefault:"30s"`
	PageTTL        time.Duration `env:"PAGE_CACHE_TTL" envDefault:"5m"`

	InitialPageSize int           `env:"INITIAL_PAGE_SIZE" envDefault:"12"`
	BatchPageSize   int           `env:"BATCH_PAGE_SIZE" envDefault:"9"`
	PreloadNext     bool          `env:"PRELOAD_NEXT_PAGE" envDefault:"true"`
	PreloadTimeout  time.Duration `env:"PRELOAD_TIMEOUT" envDefault:"15s"`

	FeedKind      string `env:"FEED_KIND" envDefault:"reel"`
	FeedBatchSize int    `env:"FEED_BATCH_SIZE" envDefault:"5"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	c.GatewayBackend = strings.ToLower(strings.TrimSpace(c.GatewayBackend))

	switch c.GatewayBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("postgres backend requires DB_HOST, DB_USER and DB_NAME")
		}
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("firestore backend requires FIREBASE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_BACKEND %q", c.GatewayBackend)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.InitialPageSize <= 0 || c.BatchPageSize <= 0 || c.FeedBatchSize <= 0 {
		return fmt.Errorf("page and batch sizes must be positive")
	}
	if c.FallbackTTL <= 0 || c.FollowCountTTL <= 0 || c.ProfileTTL <= 0 || c.PageTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	return nil
}

// MediaConfigured reports whether an S3-compatible media bucket is wired.
func (c *Config) MediaConfigured() bool {
	return c.MediaEndpoint != "" && c.MediaAccessKey != "" && c.MediaSecretKey != "" && c.MediaBucket != ""
}
