package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "anne.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("ANNE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
// PROVIDER_* and MODEL_* keys are not copied here: the provider router
// reads them live so they can differ per role and domain.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ANNE_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "ANNE_SHUTDOWN_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ANNE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ANNE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ANNE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ANNE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ANNE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "ANNE_NATS_STREAM")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Logging.Level, "ANNE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ANNE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ANNE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "ANNE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ANNE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "ANNE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "ANNE_RATE_BURST")
	setDuration(&cfg.Rate.MaxIdleTime, "ANNE_RATE_MAX_IDLE_TIME")
	setBool(&cfg.Otel.Enabled, "ANNE_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Otel.Insecure, "ANNE_OTEL_INSECURE")
	setFloat64(&cfg.Otel.Sampling, "ANNE_OTEL_SAMPLING")

	// Provider
	setDuration(&cfg.Provider.Timeout, "ANNE_PROVIDER_TIMEOUT")
	setDuration(&cfg.Provider.LocalTimeout, "ANNE_PROVIDER_LOCAL_TIMEOUT")
	setString(&cfg.Provider.LocalURL, "ANNE_PROVIDER_LOCAL_URL")

	// Guardrail
	setFloat64(&cfg.Guardrail.AutoProceedThreshold, "ANNE_GUARDRAIL_AUTO_PROCEED")
	setFloat64(&cfg.Guardrail.SuggestProceedThreshold, "ANNE_GUARDRAIL_SUGGEST_PROCEED")

	// Delegation
	setFloat64(&cfg.Delegation.ConfidenceThreshold, "ANNE_DELEGATION_THRESHOLD")
	setFloat64(&cfg.Delegation.MinMargin, "ANNE_DELEGATION_MIN_MARGIN")
	setInt(&cfg.Delegation.MaxListed, "ANNE_DELEGATION_MAX_LISTED")
	setDuration(&cfg.Delegation.CacheTTL, "ANNE_DELEGATION_CACHE_TTL")
	setInt64(&cfg.Delegation.CacheMaxCost, "ANNE_DELEGATION_CACHE_MAX_COST")

	// Audit
	setString(&cfg.Audit.Backend, "ANNE_AUDIT_BACKEND")
	setInt(&cfg.Audit.QueueSize, "ANNE_AUDIT_QUEUE_SIZE")
	setInt(&cfg.Audit.Workers, "ANNE_AUDIT_WORKERS")
	setString(&cfg.Audit.KVBucket, "ANNE_AUDIT_KV_BUCKET")
	setDuration(&cfg.Audit.DedupTTL, "ANNE_AUDIT_DEDUP_TTL")

	// Portfolio + workers
	setString(&cfg.Portfolio.Backend, "ANNE_PORTFOLIO_BACKEND")
	setString(&cfg.Workers.Transport, "ANNE_WORKERS_TRANSPORT")
	setString(&cfg.Workers.SubjectPrefix, "ANNE_WORKERS_SUBJECT_PREFIX")
	setDuration(&cfg.Workers.Timeout, "ANNE_WORKERS_TIMEOUT")
	setList(&cfg.Workers.Enabled, "ANNE_WORKERS_ENABLED")
}

// validate checks that required fields are set and ranges are coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Provider.Timeout <= 0 {
		return errors.New("provider.timeout must be > 0")
	}
	if cfg.Provider.LocalTimeout <= 0 {
		return errors.New("provider.local_timeout must be > 0")
	}

	g := cfg.Guardrail
	if g.SuggestProceedThreshold < 0 || g.AutoProceedThreshold > 100 || g.SuggestProceedThreshold > g.AutoProceedThreshold {
		return errors.New("guardrail thresholds must satisfy 0 <= suggest_proceed <= auto_proceed <= 100")
	}

	d := cfg.Delegation
	if d.ConfidenceThreshold <= 0 || d.ConfidenceThreshold > 1 {
		return errors.New("delegation.confidence_threshold must be in (0, 1]")
	}
	if d.MinMargin <= 0 || d.MinMargin >= 1 {
		return errors.New("delegation.min_margin must be in (0, 1)")
	}

	switch cfg.Audit.Backend {
	case "memory", "natskv", "redis":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres audit backend")
		}
	default:
		return fmt.Errorf("audit.backend %q is not supported", cfg.Audit.Backend)
	}
	if cfg.Audit.QueueSize < 1 || cfg.Audit.Workers < 1 {
		return errors.New("audit.queue_size and audit.workers must be >= 1")
	}

	switch cfg.Portfolio.Backend {
	case "static", "postgres":
	default:
		return fmt.Errorf("portfolio.backend %q is not supported", cfg.Portfolio.Backend)
	}

	switch cfg.Workers.Transport {
	case "none":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is required for the nats worker transport")
		}
	default:
		return fmt.Errorf("workers.transport %q is not supported", cfg.Workers.Transport)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
