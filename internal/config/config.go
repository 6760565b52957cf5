package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string

	// OriginCityCode is the carrier city code parcels ship from.
	OriginCityCode string
	Currency       string

	CarrierBaseURL      string
	CarrierClientID     string
	CarrierClientSecret string

	GeocodeBaseURL string
	GeocodeToken   string
	GeocodeCount   int

	YooKassaBaseURL   string
	YooKassaShopID    string
	YooKassaSecretKey string
	PaymentReturnURL  string

	WebhookURL    string
	WebhookSecret string

	ProviderTimeout     time.Duration
	ProviderMaxAttempts int
	BreakerOpenFor      time.Duration

	CityDebounce     time.Duration
	CityQueryRate    string
	SessionIdleTTL   time.Duration
	SessionSweep     time.Duration
	CartTTL          time.Duration
	PointsCacheTTL   time.Duration
	CheckoutLockTTL  time.Duration
	CheckoutLockWait time.Duration
	IdempotencyTTL   time.Duration
	OrderHistorySize int
	OrderHistoryTTL  time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko_checkout"),
		MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),

		OriginCityCode: valueOrDefault(k.String("ORIGIN_CITY_CODE"), "44"),
		Currency:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "RUB")),

		CarrierBaseURL:      valueOrDefault(k.String("CARRIER_BASE_URL"), "https://api.cdek.ru"),
		CarrierClientID:     strings.TrimSpace(k.String("CARRIER_CLIENT_ID")),
		CarrierClientSecret: strings.TrimSpace(k.String("CARRIER_CLIENT_SECRET")),

		GeocodeBaseURL: valueOrDefault(k.String("GEOCODE_BASE_URL"), "https://suggestions.dadata.ru"),
		GeocodeToken:   strings.TrimSpace(k.String("GEOCODE_TOKEN")),
		GeocodeCount:   parseInt(k.String("GEOCODE_SUGGESTION_COUNT"), 7),

		YooKassaBaseURL:   valueOrDefault(k.String("YOOKASSA_BASE_URL"), "https://api.yookassa.ru"),
		YooKassaShopID:    strings.TrimSpace(k.String("YOOKASSA_SHOP_ID")),
		YooKassaSecretKey: strings.TrimSpace(k.String("YOOKASSA_SECRET_KEY")),
		PaymentReturnURL:  strings.TrimSpace(k.String("PAYMENT_RETURN_URL")),

		WebhookURL:    strings.TrimSpace(k.String("CHECKOUT_WEBHOOK_URL")),
		WebhookSecret: strings.TrimSpace(k.String("CHECKOUT_WEBHOOK_SECRET")),

		ProviderTimeout:     parseDuration(k.String("PROVIDER_TIMEOUT"), "5s"),
		ProviderMaxAttempts: parseInt(k.String("PROVIDER_MAX_ATTEMPTS"), 2),
		BreakerOpenFor:      parseDuration(k.String("PROVIDER_BREAKER_OPEN_FOR"), "30s"),

		CityDebounce:     parseDuration(k.String("CITY_DEBOUNCE"), "300ms"),
		CityQueryRate:    valueOrDefault(k.String("CITY_QUERY_RATE"), "120-M"),
		SessionIdleTTL:   parseDuration(k.String("SESSION_IDLE_TTL"), "30m"),
		SessionSweep:     parseDuration(k.String("SESSION_SWEEP_INTERVAL"), "1m"),
		CartTTL:          parseDuration(k.String("CART_TTL"), "720h"),
		PointsCacheTTL:   parseDuration(k.String("POINTS_CACHE_TTL"), "1h"),
		CheckoutLockTTL:  parseDuration(k.String("CHECKOUT_LOCK_TTL"), "1m"),
		CheckoutLockWait: parseDuration(k.String("CHECKOUT_LOCK_WAIT"), "0s"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		OrderHistorySize: parseInt(k.String("ORDER_HISTORY_SIZE"), 20),
		OrderHistoryTTL:  parseDuration(k.String("ORDER_HISTORY_TTL"), "720h"),
		ShutdownTimeout:  parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),
	}

	if (cfg.CarrierClientID == "") != (cfg.CarrierClientSecret == "") {
		return nil, errors.New("CARRIER_CLIENT_ID and CARRIER_CLIENT_SECRET must be set together")
	}
	if (cfg.YooKassaShopID == "") != (cfg.YooKassaSecretKey == "") {
		return nil, errors.New("YOOKASSA_SHOP_ID and YOOKASSA_SECRET_KEY must be set together")
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return nil, errors.New("CHECKOUT_WEBHOOK_SECRET is required when CHECKOUT_WEBHOOK_URL is set")
	}
	if cfg.IsProduction() && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required in production")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// CarrierConfigured reports whether real carrier credentials are present.
func (c *Config) CarrierConfigured() bool { return c.CarrierClientID != "" }

// PaymentsConfigured reports whether real shop credentials are present.
func (c *Config) PaymentsConfigured() bool { return c.YooKassaShopID != "" }

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
