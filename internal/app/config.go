package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (COUPON_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (COUPON_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (COUPON_API_KEY_PEPPER)" flag:"api-key-pepper"`
	BloomCache   BloomCacheConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// BloomCacheConfig sizes the negative-lookup filter in front of the coupon
// repository. Bulk imports push code counts into the millions, so the filter
// keeps bogus codes off the database.
type BloomCacheConfig struct {
	Enabled       bool          `default:"true" usage:"Enable the bloom filter for coupon lookups"`
	ExpectedCodes uint          `default:"1000000" usage:"Expected number of coupon codes" flag:"bloom-expected-codes"`
	FalsePositive float64       `default:"0.001" usage:"Target false positive rate" flag:"bloom-fp-rate"`
	RewarmEvery   time.Duration `default:"1m" usage:"How often to rebuild the filter from storage" flag:"bloom-rewarm-every"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COUPON",
		Files:     []string{"config.yaml", "/etc/coupon-engine/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set COUPON_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's COUPON_-prefixed configuration.
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
