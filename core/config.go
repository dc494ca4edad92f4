package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the ORD registry.
// It supports layered configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables
//  3. Functional options (highest priority)
//
// A config file can be applied as an option via WithConfigFile; since options
// are applied in order, later options override what the file set.
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithStoreProvider("redis"),
//	    WithRedisURL("redis://localhost:6379"),
//	    WithPort(8080),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name string `json:"name" yaml:"name" env:"ORDREG_NAME" default:"ord-registry"`

	Store      StoreConfig      `json:"store" yaml:"store"`
	Schedule   ScheduleConfig   `json:"schedule" yaml:"schedule"`
	Compliance ComplianceConfig `json:"compliance" yaml:"compliance"`
	Graph      GraphConfig      `json:"graph" yaml:"graph"`
	Confidence ConfidenceConfig `json:"confidence" yaml:"confidence"`
	Cleanup    CleanupConfig    `json:"cleanup" yaml:"cleanup"`
	Annotation AnnotationConfig `json:"annotation" yaml:"annotation"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// StoreConfig selects and configures the resource store backend.
// Supported providers are "memory", "redis" and "postgres".
type StoreConfig struct {
	Provider     string        `json:"provider" yaml:"provider" env:"ORDREG_STORE_PROVIDER" default:"memory"`
	RedisURL     string        `json:"redis_url" yaml:"redis_url" env:"ORDREG_REDIS_URL,REDIS_URL"`
	DatabaseURL  string        `json:"database_url" yaml:"database_url" env:"ORDREG_DATABASE_URL,DATABASE_URL"`
	Namespace    string        `json:"namespace" yaml:"namespace" env:"ORDREG_STORE_NAMESPACE" default:"ord"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"ORDREG_STORE_FETCH_TIMEOUT" default:"5s"`
}

// ScheduleConfig holds the intervals of the four periodic registry tasks.
type ScheduleConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled" env:"ORDREG_SCHEDULE_ENABLED" default:"true"`
	DiscoveryInterval  time.Duration `json:"discovery_interval" yaml:"discovery_interval" env:"ORDREG_DISCOVERY_INTERVAL" default:"5m"`
	RefreshInterval    time.Duration `json:"refresh_interval" yaml:"refresh_interval" env:"ORDREG_REFRESH_INTERVAL" default:"1m"`
	ComplianceInterval time.Duration `json:"compliance_interval" yaml:"compliance_interval" env:"ORDREG_COMPLIANCE_INTERVAL" default:"15m"`
	CleanupInterval    time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"ORDREG_CLEANUP_INTERVAL" default:"30m"`
}

// ComplianceConfig holds the schema version every resource must declare.
// The version must parse as semver but is compared as an exact string.
type ComplianceConfig struct {
	SchemaVersion string `json:"schema_version" yaml:"schema_version" env:"ORDREG_SCHEMA_VERSION" default:"1.12"`
}

// GraphConfig holds the fan-in/fan-out thresholds used to flag critical path nodes.
// A node is critical when dependents > FanInThreshold or dependencies > FanOutThreshold.
type GraphConfig struct {
	FanInThreshold  int `json:"fan_in_threshold" yaml:"fan_in_threshold" env:"ORDREG_FAN_IN_THRESHOLD" default:"3"`
	FanOutThreshold int `json:"fan_out_threshold" yaml:"fan_out_threshold" env:"ORDREG_FAN_OUT_THRESHOLD" default:"5"`
}

// ConfidenceConfig tunes the capability confidence heuristic.
type ConfidenceConfig struct {
	RecencyWindow time.Duration `json:"recency_window" yaml:"recency_window" env:"ORDREG_RECENCY_WINDOW" default:"24h"`
}

// CleanupConfig configures stale-entry cleanup.
type CleanupConfig struct {
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after" env:"ORDREG_STALE_AFTER" default:"168h"`
}

// AnnotationConfig configures the optional AI annotation provider.
// Annotation is best-effort; when disabled a no-op provider is used.
type AnnotationConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled" env:"ORDREG_ANNOTATION_ENABLED" default:"false"`
	BaseURL  string        `json:"base_url" yaml:"base_url" env:"ORDREG_ANNOTATION_BASE_URL" default:"https://api.openai.com/v1"`
	APIKey   string        `json:"api_key" yaml:"api_key" env:"ORDREG_ANNOTATION_API_KEY,OPENAI_API_KEY"`
	Model    string        `json:"model" yaml:"model" env:"ORDREG_ANNOTATION_MODEL" default:"gpt-4o-mini"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" env:"ORDREG_ANNOTATION_TIMEOUT" default:"2s"`
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"ORDREG_ANNOTATION_CACHE_TTL" default:"5m"`
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	Address         string        `json:"address" yaml:"address" env:"ORDREG_ADDRESS"`
	Port            int           `json:"port" yaml:"port" env:"ORDREG_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"ORDREG_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"ORDREG_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"ORDREG_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	CORS            CORSConfig    `json:"cors" yaml:"cors"`
}

// CORSConfig controls cross-origin access to the HTTP API.
// Origins may be exact, "*", a wildcard subdomain ("https://*.example.com")
// or a wildcard port ("http://localhost:*").
type CORSConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled" env:"ORDREG_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins" env:"ORDREG_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

// ResilienceConfig contains retry and circuit breaker settings applied to store fetches.
type ResilienceConfig struct {
	RetryAttempts     int           `json:"retry_attempts" yaml:"retry_attempts" env:"ORDREG_RETRY_ATTEMPTS" default:"3"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay" yaml:"retry_initial_delay" env:"ORDREG_RETRY_INITIAL_DELAY" default:"100ms"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay" yaml:"retry_max_delay" env:"ORDREG_RETRY_MAX_DELAY" default:"2s"`
	BreakerThreshold  int           `json:"breaker_threshold" yaml:"breaker_threshold" env:"ORDREG_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown   time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown" env:"ORDREG_BREAKER_COOLDOWN" default:"30s"`
}

// TelemetryConfig contains OpenTelemetry configuration.
// Exporter is "otlp" (gRPC) or "stdout".
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"ORDREG_TELEMETRY_ENABLED" default:"false"`
	Exporter    string `json:"exporter" yaml:"exporter" env:"ORDREG_TELEMETRY_EXPORTER" default:"otlp"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"ORDREG_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"ORDREG_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`

	// MetricsEndpoint is an OTLP/HTTP collector for metrics. When empty,
	// metrics are only kept in process.
	MetricsEndpoint string `json:"metrics_endpoint" yaml:"metrics_endpoint" env:"ORDREG_TELEMETRY_METRICS_ENDPOINT"`
}

// LoggingConfig contains logging configuration.
// Supports structured (json) and human-readable (text) formats.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"ORDREG_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"ORDREG_LOG_FORMAT" default:"json"`
}

// Option is a functional option for configuring the registry.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "ord-registry",
		Store: StoreConfig{
			Provider:     "memory",
			Namespace:    "ord",
			FetchTimeout: 5 * time.Second,
		},
		Schedule: ScheduleConfig{
			Enabled:            true,
			DiscoveryInterval:  DefaultDiscoveryInterval,
			RefreshInterval:    DefaultRefreshInterval,
			ComplianceInterval: DefaultComplianceInterval,
			CleanupInterval:    DefaultCleanupInterval,
		},
		Compliance: ComplianceConfig{
			SchemaVersion: DefaultSchemaVersion,
		},
		Graph: GraphConfig{
			FanInThreshold:  DefaultFanInThreshold,
			FanOutThreshold: DefaultFanOutThreshold,
		},
		Confidence: ConfidenceConfig{
			RecencyWindow: DefaultRecencyWindow,
		},
		Cleanup: CleanupConfig{
			StaleAfter: DefaultStaleAfter,
		},
		Annotation: AnnotationConfig{
			Enabled:  false,
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Timeout:  2 * time.Second,
			CacheTTL: 5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Resilience: ResilienceConfig{
			RetryAttempts:     3,
			RetryInitialDelay: 100 * time.Millisecond,
			RetryMaxDelay:     2 * time.Second,
			BreakerThreshold:  5,
			BreakerCooldown:   30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "otlp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
//
// Variable naming convention:
//   - Registry-specific: ORDREG_<SETTING>
//   - Standard variables: REDIS_URL, DATABASE_URL, OPENAI_API_KEY, OTEL_EXPORTER_OTLP_ENDPOINT
//
// Returns an error if a numeric or duration variable cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ORDREG_NAME"); v != "" {
		c.Name = v
	}

	// Store settings
	if v := os.Getenv("ORDREG_STORE_PROVIDER"); v != "" {
		c.Store.Provider = v
	}
	if v := firstEnv("ORDREG_REDIS_URL", "REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := firstEnv("ORDREG_DATABASE_URL", "DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("ORDREG_STORE_NAMESPACE"); v != "" {
		c.Store.Namespace = v
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"ORDREG_STORE_FETCH_TIMEOUT", &c.Store.FetchTimeout},
		{"ORDREG_DISCOVERY_INTERVAL", &c.Schedule.DiscoveryInterval},
		{"ORDREG_REFRESH_INTERVAL", &c.Schedule.RefreshInterval},
		{"ORDREG_COMPLIANCE_INTERVAL", &c.Schedule.ComplianceInterval},
		{"ORDREG_CLEANUP_INTERVAL", &c.Schedule.CleanupInterval},
		{"ORDREG_RECENCY_WINDOW", &c.Confidence.RecencyWindow},
		{"ORDREG_STALE_AFTER", &c.Cleanup.StaleAfter},
		{"ORDREG_ANNOTATION_TIMEOUT", &c.Annotation.Timeout},
		{"ORDREG_ANNOTATION_CACHE_TTL", &c.Annotation.CacheTTL},
		{"ORDREG_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout},
		{"ORDREG_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout},
		{"ORDREG_HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout},
		{"ORDREG_RETRY_INITIAL_DELAY", &c.Resilience.RetryInitialDelay},
		{"ORDREG_RETRY_MAX_DELAY", &c.Resilience.RetryMaxDelay},
		{"ORDREG_BREAKER_COOLDOWN", &c.Resilience.BreakerCooldown},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration in %s=%q: %w", d.key, v, ErrInvalidConfiguration)
		}
		*d.target = parsed
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"ORDREG_PORT", &c.HTTP.Port},
		{"ORDREG_FAN_IN_THRESHOLD", &c.Graph.FanInThreshold},
		{"ORDREG_FAN_OUT_THRESHOLD", &c.Graph.FanOutThreshold},
		{"ORDREG_RETRY_ATTEMPTS", &c.Resilience.RetryAttempts},
		{"ORDREG_BREAKER_THRESHOLD", &c.Resilience.BreakerThreshold},
	}
	for _, i := range ints {
		v := os.Getenv(i.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer in %s=%q: %w", i.key, v, ErrInvalidConfiguration)
		}
		*i.target = parsed
	}

	if v := os.Getenv("ORDREG_SCHEDULE_ENABLED"); v != "" {
		c.Schedule.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORDREG_SCHEMA_VERSION"); v != "" {
		c.Compliance.SchemaVersion = v
	}
	if v := os.Getenv("ORDREG_ADDRESS"); v != "" {
		c.HTTP.Address = v
	}

	// Annotation settings
	if v := os.Getenv("ORDREG_ANNOTATION_ENABLED"); v != "" {
		c.Annotation.Enabled = parseBool(v)
	}
	if v := firstEnv("ORDREG_ANNOTATION_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.Annotation.APIKey = v
	}
	if v := os.Getenv("ORDREG_ANNOTATION_BASE_URL"); v != "" {
		c.Annotation.BaseURL = v
	}
	if v := os.Getenv("ORDREG_ANNOTATION_MODEL"); v != "" {
		c.Annotation.Model = v
	}

	if v := os.Getenv("ORDREG_CORS_ENABLED"); v != "" {
		c.HTTP.CORS.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORDREG_CORS_ORIGINS"); v != "" {
		c.HTTP.CORS.AllowedOrigins = strings.Split(v, ",")
		for i := range c.HTTP.CORS.AllowedOrigins {
			c.HTTP.CORS.AllowedOrigins[i] = strings.TrimSpace(c.HTTP.CORS.AllowedOrigins[i])
		}
	}

	// Telemetry settings
	if v := os.Getenv("ORDREG_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORDREG_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := firstEnv("ORDREG_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true // Auto-enable if an endpoint is provided
	}
	if v := os.Getenv("ORDREG_TELEMETRY_METRICS_ENDPOINT"); v != "" {
		c.Telemetry.MetricsEndpoint = v
	}
	if v := firstEnv("ORDREG_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}

	// Logging settings
	if v := os.Getenv("ORDREG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ORDREG_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Fields absent from the file keep their current values.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig().
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return &RegistryError{Op: "Config.Validate", Kind: "config", Message: msg, Err: ErrInvalidConfiguration}
	}
	missing := func(msg string) error {
		return &RegistryError{Op: "Config.Validate", Kind: "config", Message: msg, Err: ErrMissingConfiguration}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return invalid(fmt.Sprintf("invalid port: %d", c.HTTP.Port))
	}

	switch c.Store.Provider {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return missing("redis URL is required for the redis store provider")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return missing("database URL is required for the postgres store provider")
		}
	default:
		return invalid(fmt.Sprintf("unknown store provider: %q", c.Store.Provider))
	}

	if strings.TrimSpace(c.Compliance.SchemaVersion) == "" {
		return missing("compliance schema version is required")
	}
	if _, err := semver.NewVersion(strings.TrimSpace(c.Compliance.SchemaVersion)); err != nil {
		return invalid(fmt.Sprintf("compliance schema version %q is not a valid version: %v", c.Compliance.SchemaVersion, err))
	}

	if c.Graph.FanInThreshold < 0 || c.Graph.FanOutThreshold < 0 {
		return invalid("graph thresholds must not be negative")
	}

	intervals := map[string]time.Duration{
		"discovery":  c.Schedule.DiscoveryInterval,
		"refresh":    c.Schedule.RefreshInterval,
		"compliance": c.Schedule.ComplianceInterval,
		"cleanup":    c.Schedule.CleanupInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return invalid(fmt.Sprintf("%s interval must be positive", name))
		}
	}

	if c.Store.FetchTimeout <= 0 {
		return invalid("store fetch timeout must be positive")
	}
	if c.Cleanup.StaleAfter <= 0 {
		return invalid("cleanup stale window must be positive")
	}

	if c.Annotation.Enabled && c.Annotation.APIKey == "" {
		return missing("annotation API key is required when annotation is enabled")
	}
	if c.Annotation.Enabled && c.Annotation.Timeout <= 0 {
		return invalid("annotation timeout must be positive")
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "otlp":
			if c.Telemetry.Endpoint == "" {
				return missing("telemetry endpoint is required for the otlp exporter")
			}
		case "stdout":
		default:
			return invalid(fmt.Sprintf("unknown telemetry exporter: %q", c.Telemetry.Exporter))
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return invalid(fmt.Sprintf("unknown log format: %q", c.Logging.Format))
	}

	return nil
}

// Helper functions

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the registry instance name, also used as the default telemetry service name.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithPort sets the HTTP server port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return &RegistryError{
				Op:      "WithPort",
				Kind:    "config",
				Message: fmt.Sprintf("invalid port: %d", port),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.HTTP.Port = port
		return nil
	}
}

// WithAddress sets the HTTP bind address.
func WithAddress(address string) Option {
	return func(c *Config) error {
		c.HTTP.Address = address
		return nil
	}
}

// WithStoreProvider selects the resource store backend.
func WithStoreProvider(provider string) Option {
	return func(c *Config) error {
		c.Store.Provider = provider
		return nil
	}
}

// WithRedisURL sets the Redis URL and selects the redis store provider.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Store.RedisURL = url
		c.Store.Provider = "redis"
		return nil
	}
}

// WithDatabaseURL sets the Postgres URL and selects the postgres store provider.
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.Store.DatabaseURL = url
		c.Store.Provider = "postgres"
		return nil
	}
}

// WithFetchTimeout bounds each upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Store.FetchTimeout = d
		return nil
	}
}

// WithSchemaVersion sets the required compliance schema version.
func WithSchemaVersion(version string) Option {
	return func(c *Config) error {
		c.Compliance.SchemaVersion = version
		return nil
	}
}

// WithGraphThresholds sets the critical path fan-in and fan-out thresholds.
func WithGraphThresholds(fanIn, fanOut int) Option {
	return func(c *Config) error {
		c.Graph.FanInThreshold = fanIn
		c.Graph.FanOutThreshold = fanOut
		return nil
	}
}

// WithSchedule sets the four periodic task intervals. Zero values keep the current setting.
func WithSchedule(discovery, refresh, compliance, cleanup time.Duration) Option {
	return func(c *Config) error {
		if discovery > 0 {
			c.Schedule.DiscoveryInterval = discovery
		}
		if refresh > 0 {
			c.Schedule.RefreshInterval = refresh
		}
		if compliance > 0 {
			c.Schedule.ComplianceInterval = compliance
		}
		if cleanup > 0 {
			c.Schedule.CleanupInterval = cleanup
		}
		return nil
	}
}

// WithAnnotation enables the OpenAI-compatible annotation provider.
func WithAnnotation(apiKey, model string) Option {
	return func(c *Config) error {
		c.Annotation.Enabled = true
		c.Annotation.APIKey = apiKey
		if model != "" {
			c.Annotation.Model = model
		}
		return nil
	}
}

// WithTelemetry enables telemetry with the given exporter and endpoint.
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the logging level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging format (json or text).
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file.
// Options after this one override file settings.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a new configuration with the provided options.
// Configuration is applied in the following order:
//  1. Default values from DefaultConfig()
//  2. Environment variables via LoadFromEnv()
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
