package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (VOUCHER_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (VOUCHER_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (VOUCHER_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Catalog      CatalogConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// RedisConfig locates the Redis instance used for the range cache and the
// assignment mail queue.
type RedisConfig struct {
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// CatalogConfig configures the course discovery client and range resolution.
type CatalogConfig struct {
	BaseURL      string        `default:"http://localhost:18381/api/v1" usage:"Course discovery base URL" flag:"catalog-base-url"`
	Timeout      time.Duration `default:"5s" usage:"Single catalog request timeout" flag:"catalog-timeout"`
	Partner      string        `default:"edx" usage:"Partner short code scoping catalog queries"`
	PageSize     int           `default:"100" usage:"Catalog search page size" flag:"catalog-page-size"`
	CacheTTL     time.Duration `default:"5m" usage:"Resolved range cache TTL" flag:"catalog-cache-ttl"`
	RetryBackoff time.Duration `default:"200ms" usage:"Backoff before retrying a failed catalog call" flag:"catalog-retry-backoff"`
}

// RateLimitConfig controls the per-client-and-code sliding window rate
// limiter on redemption endpoints.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VOUCHER",
		Files:     []string{"config.yaml", "/etc/voucher/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set VOUCHER_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's VOUCHER_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
