// Package config provides centralized configuration management for licensekit.
// It loads configuration from multiple sources, validates it and exposes a
// type-safe API to the issuer CLI, the HTTP server and embedding applications.
//
// # Configuration Sources
//
// Configuration is layered in the following order of precedence:
//
//  1. Environment variables (highest priority)
//  2. YAML file named by LICENSEKIT_CONFIG, or licensekit.yaml
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LICENSEKIT_<SECTION>_<FIELD>:
//
//	LICENSEKIT_KEYS_DIR=/srv/licensing/keys
//	LICENSEKIT_KEYS_PASSPHRASE=...
//	LICENSEKIT_REGISTRY_BACKEND=sqlite
//	LICENSEKIT_LICENSE_PATH=/opt/app/license.json
//	LICENSEKIT_FINGERPRINT_PROBE_TIMEOUT=3s
//	LICENSEKIT_LOGGING_LEVEL=debug
//
// The key passphrase is only read from the environment.
//
// # Paths
//
// Relative paths are resolved against LICENSEKIT_HOME, or the working
// directory when it is unset.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Tests use config.Default() followed by ResolvePaths(t.TempDir()).
package config
