package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the API server configuration, loadable from environment
// variables (BAZAAR_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BAZAAR_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	FrontendURL string `default:"http://localhost:5173" usage:"Storefront origin gateways return buyers to" flag:"frontend-url"`
	BackendURL  string `default:"http://localhost:8080" usage:"Public URL of this API" flag:"backend-url"`
	JWT         JWTConfig
	Esewa       EsewaConfig
	Khalti      KhaltiConfig
	Gateway     GatewayConfig
	SMTP        SMTPConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// JWTConfig holds the shared secret of the identity service.
type JWTConfig struct {
	Secret string `usage:"HS256 secret used to verify access tokens (BAZAAR_JWT_SECRET)"`
}

// EsewaConfig configures the eSewa ePay v2 gateway. The defaults point at
// the public sandbox.
type EsewaConfig struct {
	ProductCode string `default:"EPAYTEST" usage:"eSewa merchant product code"`
	SecretKey   string `usage:"eSewa HMAC secret key"`
	FormURL     string `default:"https://rc-epay.esewa.com.np/api/epay/main/v2/form" usage:"eSewa form post URL"`
	StatusURL   string `default:"https://rc.esewa.com.np/api/epay/transaction/status/" usage:"eSewa transaction status URL"`
}

// KhaltiConfig configures the Khalti ePayment v2 gateway.
type KhaltiConfig struct {
	SecretKey  string `usage:"Khalti live or test secret key"`
	BaseURL    string `default:"https://a.khalti.com/api/v2" usage:"Khalti ePayment API root"`
	WebsiteURL string `usage:"Merchant website shown on checkout (defaults to the frontend URL)"`
}

// GatewayConfig tunes outbound gateway calls.
type GatewayConfig struct {
	Timeout time.Duration `default:"15s" usage:"Timeout for payment gateway requests"`
}

// SMTPConfig configures mail delivery. An empty host logs notifications
// instead of sending them.
type SMTPConfig struct {
	Host     string `usage:"SMTP relay host"`
	Port     int    `default:"587" usage:"SMTP relay port"`
	Username string `usage:"SMTP username"`
	Password string `usage:"SMTP password"`
	From     string `default:"orders@bazaar.local" usage:"Sender address"`
}

// NotifyConfig sizes the notification dispatcher.
type NotifyConfig struct {
	Workers int `default:"2" usage:"Notification delivery workers"`
	Queue   int `default:"256" usage:"Notification queue size"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"10" usage:"Sustained requests per second per client"`
	Burst int     `default:"40" usage:"Burst size per client"`
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

// LoadConfig loads configuration from the environment and YAML files and
// applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BAZAAR",
		Files:     []string{"config.yaml", "/etc/bazaar/config.yaml"},
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

// Validate reports missing settings the server cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set BAZAAR_DATABASE_URL or DATABASE_URL")
	case c.JWT.Secret == "":
		return errors.New("JWT secret is required: set BAZAAR_JWT_SECRET or JWT_SECRET")
	}
	return nil
}

// applyPlatformDefaults maps conventional platform variables (DATABASE_URL,
// PORT, JWT_SECRET) onto the BAZAAR_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = os.Getenv("JWT_SECRET")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Khalti.WebsiteURL == "" {
		c.Khalti.WebsiteURL = c.FrontendURL
	}
}
