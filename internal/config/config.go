package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Inventory InventoryConfig
	Security  SecurityConfig
	PayPal    PayPalConfig
	Square    SquareConfig
	CashApp   CashAppConfig
	Resend    ResendConfig
	Messaging MessagingConfig
	Currency  string
}

type ServerConfig struct {
	Port          string
	Host          string
	Env           string
	PublicBaseURL string
	AdminAPIKey   string
	// Pages the buyer lands on after a gateway redirect returns.
	SuccessURL string
	FailureURL string
	// Storefront origins allowed to call the API from a browser.
	AllowedOrigins []string
	// Hold and checkout creations allowed per client IP per minute.
	RateLimitPerMinute int
	// Proxies (IPs or CIDRs) whose X-Forwarded-For header is believed.
	TrustedProxies []string
}

type DatabaseConfig struct {
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type InventoryConfig struct {
	Backend            string // "memory" or "redis"
	HoldTTL            time.Duration
	HoldMaxLifetime    time.Duration
	SweepInterval      time.Duration
	StuckIssuanceAfter time.Duration
	// CatalogFile is a JSON catalog loaded into the ledger at startup.
	CatalogFile string
}

type SecurityConfig struct {
	AppSecret string
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string
	WebhookID    string
}

type SquareConfig struct {
	AccessToken         string
	LocationID          string
	Environment         string
	WebhookSignatureKey string
}

type CashAppConfig struct {
	ClientID            string
	APIKey              string
	MerchantID          string
	Environment         string
	WebhookSignatureKey string
}

type ResendConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type MessagingConfig struct {
	Backend      string // "none", "rabbitmq" or "kafka"
	RabbitMQURL  string
	KafkaBrokers []string
	KafkaTopic   string
}

const (
	InventoryBackendMemory = "memory"
	InventoryBackendRedis  = "redis"

	defaultAppSecret = "change-me-in-production"
)

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	publicBaseURL := strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/")

	config := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Host:               getEnv("HOST", "localhost"),
			Env:                getEnv("ENV", "development"),
			PublicBaseURL:      publicBaseURL,
			AdminAPIKey:        getEnv("ADMIN_API_KEY", ""),
			SuccessURL:         getEnv("CHECKOUT_SUCCESS_URL", publicBaseURL+"/checkout/success"),
			FailureURL:         getEnv("CHECKOUT_FAILURE_URL", publicBaseURL+"/checkout/failed"),
			AllowedOrigins:     getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{publicBaseURL}),
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
			TrustedProxies:     getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Database: parseDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Inventory: InventoryConfig{
			Backend:            strings.ToLower(getEnv("INVENTORY_BACKEND", InventoryBackendMemory)),
			HoldTTL:            getEnvAsDuration("HOLD_TTL", 15*time.Minute),
			HoldMaxLifetime:    getEnvAsDuration("HOLD_MAX_LIFETIME", 45*time.Minute),
			SweepInterval:      getEnvAsDuration("SWEEP_INTERVAL", 30*time.Second),
			StuckIssuanceAfter: getEnvAsDuration("STUCK_ISSUANCE_AFTER", 5*time.Minute),
			CatalogFile:        getEnv("CATALOG_FILE", ""),
		},
		Security: SecurityConfig{
			AppSecret: getEnv("APP_SECRET", defaultAppSecret),
		},
		PayPal: PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			Environment:  getEnv("PAYPAL_ENVIRONMENT", "sandbox"),
			WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
		},
		Square: SquareConfig{
			AccessToken:         getEnv("SQUARE_ACCESS_TOKEN", ""),
			LocationID:          getEnv("SQUARE_LOCATION_ID", ""),
			Environment:         getEnv("SQUARE_ENVIRONMENT", "sandbox"),
			WebhookSignatureKey: getEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
		},
		CashApp: CashAppConfig{
			ClientID:            getEnv("CASHAPP_CLIENT_ID", ""),
			APIKey:              getEnv("CASHAPP_API_KEY", ""),
			MerchantID:          getEnv("CASHAPP_MERCHANT_ID", ""),
			Environment:         getEnv("CASHAPP_ENVIRONMENT", "sandbox"),
			WebhookSignatureKey: getEnv("CASHAPP_WEBHOOK_SIGNATURE_KEY", ""),
		},
		Resend: ResendConfig{
			APIKey:    getEnv("RESEND_API_KEY", ""),
			FromEmail: getEnv("RESEND_FROM_EMAIL", "noreply@eventtickets.com"),
			FromName:  getEnv("RESEND_FROM_NAME", "Event Ticketing Platform"),
		},
		Messaging: MessagingConfig{
			Backend:      strings.ToLower(getEnv("EVENTS_BACKEND", "none")),
			RabbitMQURL:  getEnv("RABBITMQ_URL", ""),
			KafkaBrokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "order-events"),
		},
		Currency: strings.ToUpper(getEnv("CURRENCY", "USD")),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// IsProduction reports whether mock fallbacks must be refused
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) validate() error {
	switch c.Inventory.Backend {
	case InventoryBackendMemory, InventoryBackendRedis:
	default:
		return fmt.Errorf("unknown INVENTORY_BACKEND %q", c.Inventory.Backend)
	}
	if c.Inventory.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	if c.Inventory.HoldMaxLifetime < c.Inventory.HoldTTL {
		return fmt.Errorf("HOLD_MAX_LIFETIME must be at least HOLD_TTL")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a three letter code, got %q", c.Currency)
	}
	if c.IsProduction() {
		if c.Security.AppSecret == defaultAppSecret {
			return fmt.Errorf("APP_SECRET must be set in production")
		}
		if c.Server.AdminAPIKey == "" {
			return fmt.Errorf("ADMIN_API_KEY must be set in production")
		}
		// Sold counts only live in the ledger, so a process-local one forgets them on restart
		if c.Inventory.Backend != InventoryBackendRedis {
			return fmt.Errorf("INVENTORY_BACKEND=%s cannot be used in production", c.Inventory.Backend)
		}
		if c.Resend.APIKey == "" {
			return fmt.Errorf("RESEND_API_KEY must be set in production")
		}
	}
	return nil
}

// PayPalConfigured reports whether PayPal credentials are present
func (c *Config) PayPalConfigured() bool {
	return c.PayPal.ClientID != "" && c.PayPal.ClientSecret != ""
}

// SquareConfigured reports whether Square credentials are present
func (c *Config) SquareConfigured() bool {
	return c.Square.AccessToken != "" && c.Square.LocationID != ""
}

// CashAppConfigured reports whether Cash App credentials are present
func (c *Config) CashAppConfigured() bool {
	return c.CashApp.ClientID != "" && c.CashApp.APIKey != "" && c.CashApp.MerchantID != ""
}

// ReturnURL is where a gateway sends the buyer back after approval
func (c *Config) ReturnURL(gateway string) string {
	return c.Server.PublicBaseURL + "/payments/" + gateway + "/return"
}

// WebhookURL is the public URL registered with a gateway for webhooks
func (c *Config) WebhookURL(gateway string) string {
	return c.Server.PublicBaseURL + "/webhooks/" + gateway
}

func parseDatabaseConfig() DatabaseConfig {
	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		return parseDatabaseURL(databaseURL)
	}

	// Fall back to individual environment variables
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "ticket_checkout"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("15m") or plain seconds ("900")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
