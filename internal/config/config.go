package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Keys        KeysConfig        `yaml:"keys" envconfig:"KEYS"`
	Registry    RegistryConfig    `yaml:"registry" envconfig:"REGISTRY"`
	License     LicenseConfig     `yaml:"license" envconfig:"LICENSE"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" envconfig:"FINGERPRINT"`
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`

	// BaseDir is the directory relative paths were resolved against
	BaseDir string `yaml:"-" ignored:"true"`
}

// KeysConfig locates the signing key pair
type KeysConfig struct {
	Dir           string `yaml:"dir" split_words:"true"`
	Passphrase    string `yaml:"-" split_words:"true"`
	PublicKeyPath string `yaml:"public_key_path" split_words:"true"`
}

// RegistryConfig selects and locates the issuer registry
type RegistryConfig struct {
	Backend       string `yaml:"backend" split_words:"true"`
	Path          string `yaml:"path" split_words:"true"`
	DatabasePath  string `yaml:"database_path" split_words:"true"`
	BlacklistPath string `yaml:"blacklist_path" split_words:"true"`
	OutputDir     string `yaml:"output_dir" split_words:"true"`
	ReportsDir    string `yaml:"reports_dir" split_words:"true"`
}

// LicenseConfig controls client-side validation
type LicenseConfig struct {
	Path           string        `yaml:"path" split_words:"true"`
	BlacklistPath  string        `yaml:"blacklist_path" split_words:"true"`
	WatchBlacklist bool          `yaml:"watch_blacklist" split_words:"true"`
	CheckHardware  bool          `yaml:"check_hardware" split_words:"true"`
	Location       string        `yaml:"location" split_words:"true"`
	CacheTTL       time.Duration `yaml:"cache_ttl" split_words:"true"`
}

// FingerprintConfig bounds hardware probing
type FingerprintConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout" split_words:"true"`
	MinSources   int           `yaml:"min_sources" split_words:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string          `yaml:"host" split_words:"true"`
	Port            int             `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" split_words:"true"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" split_words:"true"`
	EnableIssuer    bool            `yaml:"enable_issuer" split_words:"true"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true"`
	RPS     float64 `yaml:"rps" split_words:"true"`
	Burst   int     `yaml:"burst" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" split_words:"true"`
	Format      string `yaml:"format" split_words:"true"`
	Output      string `yaml:"output" split_words:"true"`
	FilePath    string `yaml:"file_path" split_words:"true"`
	Development bool   `yaml:"development" split_words:"true"`
}

// TelemetryConfig configures OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" split_words:"true"`
	MetricsEnabled bool   `yaml:"metrics_enabled" split_words:"true"`
	TraceExporter  string `yaml:"trace_exporter" split_words:"true"`
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, in increasing order of precedence
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	baseDir, err := ResolveBaseDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	cfg.ResolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the explicit config file or the first well-known one
func getConfigFilePath() string {
	if explicit := os.Getenv(ConfigFileEnv); explicit != "" {
		return explicit
	}

	for _, location := range []string{"licensekit.yaml", "configs/licensekit.yaml"} {
		if FileExists(location) {
			return location
		}
	}
	return ""
}

// ResolvePaths makes every relative path absolute against baseDir
func (c *Config) ResolvePaths(baseDir string) {
	c.BaseDir = baseDir
	for _, p := range []*string{
		&c.Keys.Dir,
		&c.Keys.PublicKeyPath,
		&c.Registry.Path,
		&c.Registry.DatabasePath,
		&c.Registry.BlacklistPath,
		&c.Registry.OutputDir,
		&c.Registry.ReportsDir,
		&c.License.Path,
		&c.License.BlacklistPath,
		&c.Logging.FilePath,
	} {
		*p = resolvePath(baseDir, *p)
	}
}

// Validate checks the configuration for values the components cannot work with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	switch c.Registry.Backend {
	case RegistryBackendFile, RegistryBackendSQLite:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}

	if c.Fingerprint.ProbeTimeout <= 0 {
		return fmt.Errorf("fingerprint probe timeout must be positive")
	}
	if c.Fingerprint.MinSources < 1 || c.Fingerprint.MinSources > 4 {
		return fmt.Errorf("fingerprint min sources must be between 1 and 4, got %d", c.Fingerprint.MinSources)
	}

	if _, err := c.License.LoadLocation(); err != nil {
		return err
	}

	switch c.Telemetry.TraceExporter {
	case TraceExporterNone, TraceExporterStdout:
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Telemetry.TraceExporter)
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = DefaultLogFormat
	}

	return nil
}

// LoadLocation returns the time zone license expiry dates are evaluated in
func (c LicenseConfig) LoadLocation() (*time.Location, error) {
	if c.Location == "" || c.Location == DefaultLicenseLocation {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid license location %q: %w", c.Location, err)
	}
	return loc, nil
}

// Address returns the host:port the HTTP server listens on
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Keys: KeysConfig{
			Dir: DefaultKeysDir,
		},
		Registry: RegistryConfig{
			Backend:       RegistryBackendFile,
			Path:          DefaultRegistryFile,
			DatabasePath:  DefaultRegistryDB,
			BlacklistPath: DefaultBlacklistFile,
			OutputDir:     DefaultLicenseOutDir,
			ReportsDir:    DefaultReportsDir,
		},
		License: LicenseConfig{
			Path:          DefaultLicenseFile,
			BlacklistPath: DefaultBlacklistFile,
			CheckHardware: true,
			Location:      DefaultLicenseLocation,
			CacheTTL:      DefaultLicenseCacheTTL,
		},
		Fingerprint: FingerprintConfig{
			ProbeTimeout: DefaultProbeTimeout,
			MinSources:   DefaultMinFingerprintIn,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			RequestTimeout:  DefaultRequestTimeout,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   DefaultLogOutput,
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    DefaultServiceName,
			MetricsEnabled: true,
			TraceExporter:  TraceExporterNone,
		},
	}
}
