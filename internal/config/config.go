package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Auth     AuthConfig
	Checkout CheckoutConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:":8084"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"5s"`
	// WebhookTimeout is the budget for one webhook delivery. Stripe gives up after ~20s.
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
}

type DatabaseConfig struct {
	DSN            string        `envconfig:"POSTGRES_DSN" required:"true"`
	MaxOpenConns   int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns   int           `envconfig:"DB_MAX_IDLE_CONNS" default:"25"`
	MaxLifetime    time.Duration `envconfig:"DB_MAX_LIFETIME" default:"5m"`
	ConnectRetries int           `envconfig:"DB_CONNECT_RETRIES" default:"5"`
	LockTimeout    time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"2s"`
	AutoMigrate    bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"true"`
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderEvents    string `envconfig:"KAFKA_TOPIC_ORDER_EVENTS" default:"checkout.order.events"`
	RefundEvents   string `envconfig:"KAFKA_TOPIC_REFUND_EVENTS" default:"checkout.refund.events"`
	Notifications  string `envconfig:"KAFKA_TOPIC_NOTIFICATIONS" default:"checkout.notifications"`
	OperatorAlerts string `envconfig:"KAFKA_TOPIC_OPERATOR_ALERTS" default:"checkout.operator.alerts"`
}

// All returns every topic the service writes to.
func (t TopicConfig) All() []string {
	return []string{t.OrderEvents, t.RefundEvents, t.Notifications, t.OperatorAlerts}
}

type StripeConfig struct {
	SecretKey     string        `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	WebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	SuccessURL    string        `envconfig:"STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CancelURL     string        `envconfig:"STRIPE_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	CallTimeout   time.Duration `envconfig:"STRIPE_CALL_TIMEOUT" default:"3s"`
	SessionTTL    time.Duration `envconfig:"STRIPE_SESSION_TTL" default:"30m"`
}

type AuthConfig struct {
	// OIDCIssuer takes precedence over JWTSecret when both are set.
	OIDCIssuer   string `envconfig:"OIDC_ISSUER"`
	OIDCClientID string `envconfig:"OIDC_CLIENT_ID"`
	JWTSecret    string `envconfig:"AUTH_JWT_SECRET"`
}

type CheckoutConfig struct {
	TokenPepper      string        `envconfig:"CHECKOUT_TOKEN_PEPPER" required:"true"`
	LookupRateLimit  int           `envconfig:"LOOKUP_RATE_LIMIT" default:"30"`
	LookupRateWindow time.Duration `envconfig:"LOOKUP_RATE_WINDOW" default:"1m"`
	RefundGuardTTL   time.Duration `envconfig:"REFUND_GUARD_TTL" default:"30s"`
}

type LogConfig struct {
	Dir     string `envconfig:"LOG_DIR" default:"logs"`
	Level   string `envconfig:"LOG_LEVEL" default:"info"`
	Service string `envconfig:"LOG_SERVICE" default:"checkout"`
}

// Load reads the environment into a Config. Callers load .env files beforehand.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Stripe.CallTimeout <= 0 || c.Stripe.CallTimeout >= c.Server.WebhookTimeout {
		return fmt.Errorf("STRIPE_CALL_TIMEOUT (%s) must be positive and below WEBHOOK_TIMEOUT (%s)",
			c.Stripe.CallTimeout, c.Server.WebhookTimeout)
	}
	if len(c.Checkout.TokenPepper) < 16 {
		return errors.New("CHECKOUT_TOKEN_PEPPER must be at least 16 bytes")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS must be set when Kafka is enabled")
	}
	return nil
}
