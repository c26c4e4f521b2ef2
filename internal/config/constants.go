package config

import "time"

// Application constants
const (
	AppName    = "licensekit"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable (LICENSEKIT_*)
	EnvPrefix = "LICENSEKIT"

	// ConfigFileEnv names the variable holding an explicit YAML config path
	ConfigFileEnv = "LICENSEKIT_CONFIG"

	// HomeEnv overrides the base directory relative paths are resolved against
	HomeEnv = "LICENSEKIT_HOME"
)

// File layout defaults, relative to the base directory
const (
	DefaultKeysDir         = "keys"
	DefaultRegistryFile    = "license-registry.json"
	DefaultRegistryDB      = "license-registry.db"
	DefaultBlacklistFile   = "blacklist.json"
	DefaultLicenseOutDir   = "licenses"
	DefaultLicenseFile     = "license.json"
	DefaultLogsDir         = "logs"
	DefaultLogFile         = "logs/licensekit.log"
	DefaultReportsDir      = "reports"
	RegistryBackendFile    = "file"
	RegistryBackendSQLite  = "sqlite"
	TraceExporterNone      = "none"
	TraceExporterStdout    = "stdout"
	DefaultServiceName     = "licensekit"
	DefaultLicenseLocation = "Local"
)

// Timing defaults
const (
	DefaultProbeTimeout     = 3 * time.Second
	DefaultLicenseCacheTTL  = 30 * time.Second
	DefaultReadTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 15 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMinFingerprintIn = 2
)

// HTTP defaults
const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8080
	DefaultRateLimit = 20
	DefaultBurstSize = 40
)

// Log settings
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "console"
)
