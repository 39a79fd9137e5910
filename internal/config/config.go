// Package config loads and validates the dossier backend configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ND_ prefix (e.g., ND_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The GEMINI_API_KEY variable has no ND_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets) that does not know the
// application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Filings   FilingsConfig   `mapstructure:"filings"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// FilingsConfig holds settings for the financial-disclosure (filings) upstream API.
type FilingsConfig struct {
	// BaseURL is the root of the nonprofit filings API (v2 search/organization endpoints).
	BaseURL string `mapstructure:"base_url"`
	// UserAgent is sent on every upstream request so the operator is identifiable.
	UserAgent string `mapstructure:"user_agent"`
	// RequestTimeout bounds metadata calls; DocumentTimeout bounds filing PDF downloads.
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	DocumentTimeout time.Duration `mapstructure:"document_timeout"`
	// MinRequestInterval is the client-side pacing between upstream calls.
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	// DefaultState restricts searches when the caller does not supply a region code.
	DefaultState string `mapstructure:"default_state"`
}

// DirectoryConfig holds settings for the licensed-provider directory scrape source.
type DirectoryConfig struct {
	// IndexURL is the portal page listing one roster document per town.
	IndexURL string `mapstructure:"index_url"`
	// AllowedHosts are the only hosts documents may be fetched from.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	// AllowedPathFragments further restricts document URLs (roster, profile, quality paths).
	AllowedPathFragments []string      `mapstructure:"allowed_path_fragments"`
	UserAgent            string        `mapstructure:"user_agent"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	DocumentTimeout      time.Duration `mapstructure:"document_timeout"`
	// RefreshIntervalHours is how often the background job rebuilds the directory index.
	RefreshIntervalHours int `mapstructure:"refresh_interval_hours"`
}

// MatcherConfig holds entity-matcher settings.
type MatcherConfig struct {
	// OverridesFile is an optional YAML file pinning organizations to provider
	// profiles, hot-reloaded on change. Empty disables overrides.
	OverridesFile string `mapstructure:"overrides_file"`
}

// ArchiveConfig holds document archive configuration
type ArchiveConfig struct {
	// Enabled toggles archival of fetched dossier documents.
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the archive implementation: local, s3, or gcs.
	Backend string             `mapstructure:"backend"`
	Local   LocalArchiveConfig `mapstructure:"local"`
	S3      S3ArchiveConfig    `mapstructure:"s3"`
	GCS     GCSArchiveConfig   `mapstructure:"gcs"`
}

// LocalArchiveConfig holds local filesystem archive configuration
type LocalArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArchiveConfig holds S3-compatible archive configuration
type S3ArchiveConfig struct {
	// Endpoint is an optional S3-compatible endpoint URL (MinIO, Spaces, etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// Static credentials; empty means the AWS default credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GCSArchiveConfig holds Google Cloud Storage archive configuration
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	// CredentialsFile is a service account JSON key path; empty means
	// Application Default Credentials.
	CredentialsFile string `mapstructure:"credentials_file"`
	// Endpoint is an optional custom endpoint (for emulators).
	Endpoint string `mapstructure:"endpoint"`
}

// AnalysisConfig holds narrative-analysis collaborator configuration.
type AnalysisConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Model is the generative model identifier used for dossier narratives.
	Model string `mapstructure:"model"`
	// APIKey for the generative API; ${GEMINI_API_KEY} is expanded.
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Filings source
		"filings.base_url",
		"filings.user_agent",
		"filings.request_timeout",
		"filings.document_timeout",
		"filings.min_request_interval",
		"filings.default_state",

		// Directory source
		"directory.index_url",
		"directory.allowed_hosts",
		"directory.allowed_path_fragments",
		"directory.user_agent",
		"directory.request_timeout",
		"directory.document_timeout",
		"directory.refresh_interval_hours",

		// Matcher
		"matcher.overrides_file",

		// Archive
		"archive.enabled",
		"archive.backend",
		"archive.local.base_path",
		"archive.s3.endpoint",
		"archive.s3.region",
		"archive.s3.bucket",
		"archive.s3.access_key_id",
		"archive.s3.secret_access_key",
		"archive.gcs.bucket",
		"archive.gcs.credentials_file",
		"archive.gcs.endpoint",

		// Analysis
		"analysis.enabled",
		"analysis.model",
		"analysis.api_key",
		"analysis.request_timeout",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/nonprofit-dossier")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("ND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Analysis.APIKey = expandEnv(cfg.Analysis.APIKey)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "nonprofit_dossier")
	v.SetDefault("database.user", "dossier")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Filings source defaults
	v.SetDefault("filings.base_url", "https://projects.propublica.org/nonprofits/api/v2")
	v.SetDefault("filings.user_agent", "nonprofit-dossier/1.0")
	v.SetDefault("filings.request_timeout", "30s")
	v.SetDefault("filings.document_timeout", "60s")
	v.SetDefault("filings.min_request_interval", "500ms")
	v.SetDefault("filings.default_state", "CT")

	// Directory source defaults
	v.SetDefault("directory.index_url", "https://portal.ct.gov/dds/searchable-archive/providerprofile/general/provider-by-town?language=en_US")
	v.SetDefault("directory.allowed_hosts", []string{"portal.ct.gov", "www.ct.gov", "ct.gov"})
	v.SetDefault("directory.allowed_path_fragments", []string{"/provider_town/", "/provider_alpha/", "/qsr/", "/dds/", "quality"})
	v.SetDefault("directory.user_agent", "nonprofit-dossier/1.0 (+https://portal.ct.gov)")
	v.SetDefault("directory.request_timeout", "30s")
	v.SetDefault("directory.document_timeout", "60s")
	v.SetDefault("directory.refresh_interval_hours", 6)

	// Matcher defaults
	v.SetDefault("matcher.overrides_file", "")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.local.base_path", "./archive")

	// Analysis defaults
	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.model", "gemini-2.5-flash")
	v.SetDefault("analysis.api_key", "${GEMINI_API_KEY}")
	v.SetDefault("analysis.request_timeout", "120s")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "nonprofit-dossier")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate upstream sources
	if err := validateHTTPURL("filings.base_url", c.Filings.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPURL("directory.index_url", c.Directory.IndexURL); err != nil {
		return err
	}
	if len(c.Directory.AllowedHosts) == 0 {
		return fmt.Errorf("directory.allowed_hosts must not be empty")
	}
	if c.Directory.RefreshIntervalHours < 1 {
		return fmt.Errorf("directory.refresh_interval_hours must be at least 1")
	}

	// Validate archive backend
	validBackends := map[string]bool{"local": true, "s3": true, "gcs": true}
	if !validBackends[c.Archive.Backend] {
		return fmt.Errorf("invalid archive backend: %s (must be local, s3, or gcs)", c.Archive.Backend)
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "local":
			if c.Archive.Local.BasePath == "" {
				return fmt.Errorf("archive.local.base_path is required when using the local backend")
			}
		case "s3":
			if c.Archive.S3.Bucket == "" {
				return fmt.Errorf("archive.s3.bucket is required when using the s3 backend")
			}
			if c.Archive.S3.Region == "" {
				return fmt.Errorf("archive.s3.region is required when using the s3 backend")
			}
		case "gcs":
			if c.Archive.GCS.Bucket == "" {
				return fmt.Errorf("archive.gcs.bucket is required when using the gcs backend")
			}
		}
	}

	// Validate analysis
	if c.Analysis.Enabled {
		if c.Analysis.APIKey == "" {
			return fmt.Errorf("analysis.api_key is required when analysis is enabled")
		}
		if c.Analysis.Model == "" {
			return fmt.Errorf("analysis.model is required when analysis is enabled")
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func validateHTTPURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must have a host", key)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
