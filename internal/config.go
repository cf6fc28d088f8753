package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Events        EventsConfig        `mapstructure:"events"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=pgx sqlite3"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m"`
	APIKeyHashes        []string      `mapstructure:"api_key_hashes"`
	BCryptCost          int           `mapstructure:"bcrypt_cost" validate:"min=10,max=15"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name" validate:"required_if=Enabled true"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

type GatewaysConfig struct {
	CircuitBreaker CircuitBreakerConfig    `mapstructure:"circuit_breaker"`
	Providers      map[string]GatewayEntry `mapstructure:"providers"`
}

type CircuitBreakerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	OpenTimeout       time.Duration `mapstructure:"open_timeout"`
	HalfOpenSuccesses int           `mapstructure:"half_open_successes"`
}

// GatewayEntry is one provider block under gateways.providers. The map key is the
// gateway name; Driver selects the adapter and defaults to the name.
type GatewayEntry struct {
	Enabled             bool              `mapstructure:"enabled"`
	Driver              string            `mapstructure:"driver"`
	Priority            int               `mapstructure:"priority"`
	Credentials         map[string]string `mapstructure:"credentials"`
	APIEndpoint         string            `mapstructure:"api_endpoint"`
	WebhookEndpoint     string            `mapstructure:"webhook_endpoint"`
	SupportedCurrencies []string          `mapstructure:"supported_currencies"`
	RetryAttempts       int               `mapstructure:"retry_attempts"`
	Timeout             time.Duration     `mapstructure:"timeout"`
	RateLimit           float64           `mapstructure:"rate_limit"`
}

type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type EventsConfig struct {
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
	AWSRegion   string `mapstructure:"aws_region"`
	AWSEndpoint string `mapstructure:"aws_endpoint"`
}

var defaultCurrencies = []string{"USD", "EUR", "GBP", "BRL"}

// LoadConfigFromEnv builds the configuration for container deployments where no
// config.yml is mounted. Gateway credentials come from STRIPE_*, PAYPAL_* and SANDBOX_*.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			RateLimitRPS:      getEnvAsFloat("HTTP_RATE_LIMIT_RPS", 0),
			RateLimitBurst:    getEnvAsInt("HTTP_RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "pgx"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", getEnv("DB_SOURCE", "")),
		},
		Security: SecurityConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			JWTIssuer:           getEnv("JWT_ISSUER", "payment-gateway"),
			AccessTokenDuration: getEnvAsDuration("ACCESS_TOKEN_DURATION", 15*time.Minute),
			APIKeyHashes:        getEnvAsList("API_KEY_HASHES"),
			BCryptCost:          getEnvAsInt("BCRYPT_COST", 10),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Tracing: TracingConfig{
				Enabled:      getEnvAsBool("TRACING_ENABLED", false),
				ServiceName:  getEnv("TRACING_SERVICE_NAME", "payment-gateway"),
				SamplingRate: getEnvAsFloat("TRACING_SAMPLING_RATE", 1),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Gateways: GatewaysConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:           getEnvAsBool("CIRCUIT_BREAKER_ENABLED", false),
				FailureThreshold:  getEnvAsInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
				OpenTimeout:       getEnvAsDuration("CIRCUIT_BREAKER_OPEN_TIMEOUT", 30*time.Second),
				HalfOpenSuccesses: getEnvAsInt("CIRCUIT_BREAKER_HALF_OPEN_SUCCESSES", 2),
			},
			Providers: map[string]GatewayEntry{},
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: getEnvAsDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		Events: EventsConfig{
			SNSTopicARN: getEnv("SNS_TOPIC_ARN", ""),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			AWSEndpoint: getEnv("AWS_ENDPOINT", ""),
		},
	}

	stripeCreds := map[string]string{
		"secret_key":     getEnv("STRIPE_SECRET_KEY", ""),
		"webhook_secret": getEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
	cfg.Gateways.Providers["stripe"] = GatewayEntry{
		Enabled:             getEnvAsBool("STRIPE_ENABLED", true),
		Priority:            getEnvAsInt("STRIPE_PRIORITY", 1),
		Credentials:         stripeCreds,
		APIEndpoint:         getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		WebhookEndpoint:     getEnv("STRIPE_WEBHOOK_URL", "/api/v1/payments/webhooks/stripe"),
		SupportedCurrencies: defaultCurrencies,
		RetryAttempts:       getEnvAsInt("STRIPE_RETRY_ATTEMPTS", 3),
		Timeout:             getEnvAsDuration("STRIPE_TIMEOUT", 30*time.Second),
	}

	paypalCreds := map[string]string{
		"client_id":     getEnv("PAYPAL_CLIENT_ID", ""),
		"client_secret": getEnv("PAYPAL_CLIENT_SECRET", ""),
	}
	if webhookID := getEnv("PAYPAL_WEBHOOK_ID", ""); webhookID != "" {
		paypalCreds["webhook_id"] = webhookID
	}
	paypalEndpoint := "https://api-m.sandbox.paypal.com"
	if getEnv("PAYPAL_MODE", "sandbox") == "live" {
		paypalEndpoint = "https://api-m.paypal.com"
	}
	cfg.Gateways.Providers["paypal"] = GatewayEntry{
		Enabled:             getEnvAsBool("PAYPAL_ENABLED", true),
		Priority:            getEnvAsInt("PAYPAL_PRIORITY", 2),
		Credentials:         paypalCreds,
		APIEndpoint:         getEnv("PAYPAL_API_URL", paypalEndpoint),
		WebhookEndpoint:     getEnv("PAYPAL_WEBHOOK_URL", "/api/v1/payments/webhooks/paypal"),
		SupportedCurrencies: defaultCurrencies,
		RetryAttempts:       getEnvAsInt("PAYPAL_RETRY_ATTEMPTS", 3),
		Timeout:             getEnvAsDuration("PAYPAL_TIMEOUT", 30*time.Second),
	}

	if getEnvAsBool("SANDBOX_ENABLED", false) {
		cfg.Gateways.Providers["sandbox"] = GatewayEntry{
			Enabled:             true,
			Priority:            getEnvAsInt("SANDBOX_PRIORITY", 99),
			Credentials:         map[string]string{"webhook_token": getEnv("SANDBOX_WEBHOOK_TOKEN", "")},
			WebhookEndpoint:     getEnv("SANDBOX_WEBHOOK_URL", "http://localhost:8080/api/v1/payments/webhooks/sandbox"),
			SupportedCurrencies: defaultCurrencies,
			RetryAttempts:       3,
			Timeout:             5 * time.Second,
		}
	}

	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Gateways.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateways config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	if c.RateLimitRPS < 0 {
		return errors.New("rate_limit_rps cannot be negative")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "", "pgx", "sqlite3":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// DriverName returns the database/sql driver, pgx unless configured otherwise.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "" {
		return "pgx"
	}
	return c.Driver
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.AccessTokenDuration <= 0 {
		return errors.New("access_token_duration must be positive")
	}
	return nil
}

func (c *GatewaysConfig) Validate() error {
	for name, entry := range c.Providers {
		if entry.Priority < 0 {
			return fmt.Errorf("%s: priority cannot be negative", name)
		}
		if entry.RetryAttempts < 0 {
			return fmt.Errorf("%s: retry_attempts cannot be negative", name)
		}
		for _, currency := range entry.SupportedCurrencies {
			if len(currency) != 3 {
				return fmt.Errorf("%s: invalid currency code %q", name, currency)
			}
		}
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold <= 0 {
		return errors.New("circuit_breaker.failure_threshold must be positive")
	}
	return nil
}
