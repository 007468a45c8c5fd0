package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PICKLEPOT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PICKLEPOT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"redis://localhost:6379/0" usage:"Redis URL for cart storage (PICKLEPOT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PICKLEPOT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Kafka        KafkaConfig
	Cart         CartConfig
	Payment      PaymentConfig
	Tx           TxConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// KafkaConfig controls the outbox relay. The relay is off without brokers.
type KafkaConfig struct {
	Brokers       []string      `usage:"Kafka bootstrap brokers"`
	Topic         string        `default:"picklepot.events" usage:"Topic for domain events"`
	RelayInterval time.Duration `default:"1s" usage:"Outbox poll interval" flag:"relay-interval"`
	BatchSize     int           `default:"100" usage:"Outbox rows per publish" flag:"relay-batch-size"`
}

// CartConfig controls stored carts.
type CartConfig struct {
	TTL time.Duration `default:"168h" usage:"Idle cart lifetime"`
}

// PaymentConfig selects and configures the payment processor.
type PaymentConfig struct {
	Processor  string        `default:"sandbox" usage:"Payment processor: sandbox or gateway"`
	GatewayURL string        `usage:"Gateway base URL" flag:"gateway-url"`
	GatewayKey string        `usage:"Gateway API key" flag:"gateway-key"`
	Timeout    time.Duration `default:"15s" usage:"Processor call timeout"`
	SlowDelay  time.Duration `default:"0s" usage:"Sandbox delay for amounts ending in .99" flag:"sandbox-slow-delay"`
}

// TxConfig controls database transactions.
type TxConfig struct {
	LockTimeout time.Duration `default:"2s" usage:"Row lock wait before a conflict is reported" flag:"lock-timeout"`
	MaxRetries  int           `default:"3" usage:"Retries for serialization failures and deadlocks" flag:"tx-max-retries"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PICKLEPOT",
		Files:     []string{"config.yaml", "/etc/picklepot/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PICKLEPOT_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set PICKLEPOT_API_KEY_PEPPER")
	}
	switch c.Payment.Processor {
	case "sandbox":
	case "gateway":
		if c.Payment.GatewayURL == "" {
			return errors.New("gateway processor requires PICKLEPOT_PAYMENT_GATEWAY_URL")
		}
	default:
		return errors.Errorf("unknown payment processor %q", c.Payment.Processor)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL, REDIS_URL and
// PORT onto the PICKLEPOT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("PICKLEPOT_REDIS_URL") == "" {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
