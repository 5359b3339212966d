// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, outbox relay tuning,
// rate limiting, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "auction-ledger")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// KafkaConfig defines the downstream broker for the outbox relay.
type KafkaConfig struct {
	Enabled bool     // KAFKA_ENABLED; when false outbox entries accumulate unpublished
	Brokers []string // KAFKA_BROKERS, comma-separated host:port
	Topic   string   // KAFKA_TOPIC
}

// RelayConfig tunes the outbox drain workers.
type RelayConfig struct {
	Workers      int           // RELAY_WORKERS
	PollInterval time.Duration // RELAY_POLL_INTERVAL
	PageSize     int           // RELAY_PAGE_SIZE
	Lease        time.Duration // RELAY_CLAIM_LEASE
	MaxRetries   int           // RELAY_MAX_RETRIES before flagging
	BaseBackoff  time.Duration // RELAY_BASE_BACKOFF (doubled per attempt)
	MaxBackoff   time.Duration // RELAY_MAX_BACKOFF cap
}

// RollupConfig tunes the taker rollup cache refresh job.
type RollupConfig struct {
	Enabled  bool   // ROLLUP_REFRESH_ENABLED
	CronSpec string // ROLLUP_REFRESH_CRON (robfig/cron format)
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
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Downstream delivery
	Kafka KafkaConfig
	Relay RelayConfig

	// Rollup cache
	Rollup RollupConfig

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
		DBPath: getenv("DB_PATH", "ledger.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 25.0),
		RateBurst: getint("RATE_BURST", 50),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Downstream delivery
		Kafka: KafkaConfig{
			Enabled: getbool("KAFKA_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "auction-ledger-events"),
		},
		Relay: RelayConfig{
			Workers:      getint("RELAY_WORKERS", 1),
			PollInterval: getdur("RELAY_POLL_INTERVAL", 2*time.Second),
			PageSize:     getint("RELAY_PAGE_SIZE", 100),
			Lease:        getdur("RELAY_CLAIM_LEASE", 30*time.Second),
			MaxRetries:   getint("RELAY_MAX_RETRIES", 10),
			BaseBackoff:  getdur("RELAY_BASE_BACKOFF", time.Second),
			MaxBackoff:   getdur("RELAY_MAX_BACKOFF", 5*time.Minute),
		},

		// Rollup cache
		Rollup: RollupConfig{
			Enabled:  getbool("ROLLUP_REFRESH_ENABLED", true),
			CronSpec: getenv("ROLLUP_REFRESH_CRON", "@every 5m"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "auction-ledger"),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
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
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return cfg, errors.New("KAFKA_BROKERS must not be empty when KAFKA_ENABLED is set")
		}
		if strings.TrimSpace(cfg.Kafka.Topic) == "" {
			return cfg, errors.New("KAFKA_TOPIC must not be empty when KAFKA_ENABLED is set")
		}
	}
	if cfg.Relay.Workers < 1 {
		return cfg, errors.New("RELAY_WORKERS must be >= 1")
	}
	if cfg.Relay.PollInterval <= 0 || cfg.Relay.Lease <= 0 {
		return cfg, errors.New("relay intervals must be positive durations")
	}
	if cfg.Relay.PageSize < 1 {
		return cfg, errors.New("RELAY_PAGE_SIZE must be >= 1")
	}
	if cfg.Relay.MaxRetries < 1 {
		return cfg, errors.New("RELAY_MAX_RETRIES must be >= 1")
	}
	if cfg.Relay.BaseBackoff <= 0 || cfg.Relay.MaxBackoff < cfg.Relay.BaseBackoff {
		return cfg, errors.New("RELAY_BASE_BACKOFF must be > 0 and <= RELAY_MAX_BACKOFF")
	}
	if cfg.Rollup.Enabled && strings.TrimSpace(cfg.Rollup.CronSpec) == "" {
		return cfg, errors.New("ROLLUP_REFRESH_CRON must not be empty when ROLLUP_REFRESH_ENABLED is set")
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
