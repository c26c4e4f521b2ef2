package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)
	t.Setenv(ConfigFileEnv, filepath.Join(home, "missing.yaml"))

	_, err := Load()
	require.Error(t, err, "an explicit config path that does not exist is an error")

	t.Setenv(ConfigFileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, home, cfg.BaseDir)
	assert.Equal(t, filepath.Join(home, DefaultKeysDir), cfg.Keys.Dir)
	assert.Equal(t, filepath.Join(home, DefaultRegistryFile), cfg.Registry.Path)
	assert.Equal(t, RegistryBackendFile, cfg.Registry.Backend)
	assert.Equal(t, DefaultProbeTimeout, cfg.Fingerprint.ProbeTimeout)
	assert.Equal(t, 2, cfg.Fingerprint.MinSources)
	assert.True(t, cfg.License.CheckHardware)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	home := t.TempDir()
	configPath := filepath.Join(home, "licensekit.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
registry:
  backend: sqlite
  database_path: /var/lib/licensekit/registry.db
server:
  port: 9090
  rate_limit:
    rps: 5
license:
  location: UTC
fingerprint:
  probe_timeout: 1s
`), 0644))

	t.Setenv(HomeEnv, home)
	t.Setenv(ConfigFileEnv, configPath)
	t.Setenv("LICENSEKIT_SERVER_PORT", "9191")
	t.Setenv("LICENSEKIT_KEYS_PASSPHRASE", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RegistryBackendSQLite, cfg.Registry.Backend)
	assert.Equal(t, "/var/lib/licensekit/registry.db", cfg.Registry.DatabasePath)
	assert.Equal(t, 9191, cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, float64(5), cfg.Server.RateLimit.RPS)
	assert.Equal(t, DefaultBurstSize, cfg.Server.RateLimit.Burst, "unset nested fields keep defaults")
	assert.Equal(t, time.Second, cfg.Fingerprint.ProbeTimeout)
	assert.Equal(t, "s3cret", cfg.Keys.Passphrase)

	loc, err := cfg.License.LoadLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "unknown backend", mutate: func(c *Config) { c.Registry.Backend = "postgres" }, wantErr: "unknown registry backend"},
		{name: "zero probe timeout", mutate: func(c *Config) { c.Fingerprint.ProbeTimeout = 0 }, wantErr: "probe timeout"},
		{name: "min sources out of range", mutate: func(c *Config) { c.Fingerprint.MinSources = 5 }, wantErr: "min sources"},
		{name: "bad location", mutate: func(c *Config) { c.License.Location = "Mars/Olympus" }, wantErr: "invalid license location"},
		{name: "unknown trace exporter", mutate: func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }, wantErr: "unknown trace exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := Default()
	cfg.Registry.DatabasePath = "/abs/registry.db"
	cfg.Keys.PublicKeyPath = ""

	cfg.ResolvePaths("/srv/app")

	assert.Equal(t, filepath.Join("/srv/app", DefaultKeysDir), cfg.Keys.Dir)
	assert.Equal(t, "/abs/registry.db", cfg.Registry.DatabasePath)
	assert.Empty(t, cfg.Keys.PublicKeyPath, "empty paths stay empty")
	assert.Equal(t, filepath.Join("/srv/app", DefaultLicenseFile), cfg.License.Path)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir, 0700))
	assert.True(t, FileExists(dir))
	assert.NoError(t, EnsureDir("", 0700))
}

func TestServerAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", Default().Server.Address())
}
