// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the database, the dispatch schedule, notification delivery, the
// conferencing provider, pricing rates and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "interpreter-orders")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file
	URL    string // Postgres DSN
}

// DispatchConfig drives the scheduler and the dispatch orchestrator.
type DispatchConfig struct {
	Schedule          string        // cron spec or descriptor, e.g. "@every 1m"
	BatchSize         int           // max rows per list query per tick (0 = all)
	GroupRestartDelay time.Duration // initial retry horizon for group passes
	FailureBackoff    time.Duration // retry horizon after a rejected dispatch
	AdminRecipient    string        // receives red-flag escalations
}

// NotifyConfig tunes notification delivery.
type NotifyConfig struct {
	Timeout      time.Duration
	RPS          float64
	Burst        int
	KafkaBrokers []string // empty = log-only sender
	KafkaTopic   string
}

// MeetingsConfig points at the conferencing provider.
type MeetingsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PricingConfig overrides the flat-rate defaults.
type PricingConfig struct {
	RemoteHourly      string // decimal strings, parsed by the pricing package
	OnSiteHourly      string
	CorporateDiscount string
	GSTRate           string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DB                DBConfig
	PlatformCompanyID string
	Dispatch          DispatchConfig
	Notify            NotifyConfig
	Meetings          MeetingsConfig
	Pricing           PricingConfig

	// Rate limiting of the ops API
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "orders.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		PlatformCompanyID: getenv("PLATFORM_COMPANY_ID", ""),
		Dispatch: DispatchConfig{
			Schedule:          getenv("DISPATCH_SCHEDULE", "@every 1m"),
			BatchSize:         getint("DISPATCH_BATCH_SIZE", 100),
			GroupRestartDelay: getdur("GROUP_RESTART_DELAY", 30*time.Minute),
			FailureBackoff:    getdur("DISPATCH_FAILURE_BACKOFF", time.Hour),
			AdminRecipient:    getenv("ADMIN_RECIPIENT_ID", "admins"),
		},
		Notify: NotifyConfig{
			Timeout:      getdur("NOTIFY_TIMEOUT", 10*time.Second),
			RPS:          getfloat("NOTIFY_RPS", 50),
			Burst:        getint("NOTIFY_BURST", 100),
			KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			KafkaTopic:   getenv("KAFKA_NOTIFY_TOPIC", "order-notifications"),
		},
		Meetings: MeetingsConfig{
			BaseURL: getenv("MEETINGS_BASE_URL", ""),
			APIKey:  getenv("MEETINGS_API_KEY", ""),
			Timeout: getdur("MEETINGS_TIMEOUT", 5*time.Second),
		},
		Pricing: PricingConfig{
			RemoteHourly:      getenv("PRICING_REMOTE_HOURLY", ""),
			OnSiteHourly:      getenv("PRICING_ONSITE_HOURLY", ""),
			CorporateDiscount: getenv("PRICING_CORPORATE_DISCOUNT", ""),
			GSTRate:           getenv("PRICING_GST_RATE", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "interpreter-orders"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Dispatch.Schedule) == "" {
		return cfg, errors.New("DISPATCH_SCHEDULE must not be empty")
	}
	if cfg.Dispatch.BatchSize < 0 {
		return cfg, errors.New("DISPATCH_BATCH_SIZE must be >= 0")
	}
	if cfg.Dispatch.GroupRestartDelay <= 0 {
		return cfg, errors.New("GROUP_RESTART_DELAY must be > 0")
	}
	if cfg.Dispatch.FailureBackoff <= 0 {
		return cfg, errors.New("DISPATCH_FAILURE_BACKOFF must be > 0")
	}
	if cfg.Notify.Timeout <= 0 {
		return cfg, errors.New("NOTIFY_TIMEOUT must be > 0")
	}
	if cfg.Notify.RPS < 0 {
		return cfg, errors.New("NOTIFY_RPS must be >= 0")
	}
	if len(cfg.Notify.KafkaBrokers) > 0 && strings.TrimSpace(cfg.Notify.KafkaTopic) == "" {
		return cfg, errors.New("KAFKA_NOTIFY_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.Meetings.Timeout <= 0 {
		return cfg, errors.New("MEETINGS_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
