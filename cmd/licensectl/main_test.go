package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/config"
	apperrors "licensekit/internal/errors"
	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

var testHWID = strings.Repeat("ab", 32)

func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.HomeEnv, home)
	t.Setenv(config.ConfigFileEnv, "")

	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--home", home, "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func issue(t *testing.T, home string, args ...string) domain.LicenseRecord {
	t.Helper()
	output, err := runCLI(t, home, append([]string{"generate", "--json"}, args...)...)
	require.NoError(t, err)

	var result license.GenerateResult
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	require.NotEmpty(t, result.Record.ID)
	return result.Record
}

func TestRunKeygenCommand(t *testing.T) {
	home := t.TempDir()

	output, err := runCLI(t, home, "keygen")
	require.NoError(t, err)
	assert.Contains(t, output, "Key pair created")
	assert.Contains(t, output, filepath.Join(home, "keys"))
	assert.FileExists(t, filepath.Join(home, "keys", "public.pem"))

	_, err = runCLI(t, home, "keygen")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrKeysExist))

	output, err = runCLI(t, home, "keygen", "--force")
	require.NoError(t, err)
	assert.Contains(t, output, "Key pair created")
}

func TestLicenseLifecycleCommands(t *testing.T) {
	home := t.TempDir()
	licensePath := filepath.Join(home, "license.json")

	_, err := runCLI(t, home, "keygen")
	require.NoError(t, err)

	rec := issue(t, home,
		"--client", "Acme Corp",
		"--type", "pro",
		"--hwid", testHWID,
		"--max-users", "10",
		"--out", licensePath)
	assert.Equal(t, domain.LicenseTypePro, rec.LicenseType)
	require.NotNil(t, rec.MaxUsers)
	assert.Equal(t, 10, *rec.MaxUsers)
	assert.FileExists(t, licensePath)

	t.Run("validate_valid", func(t *testing.T) {
		output, err := runCLI(t, home, "validate", "--file", licensePath,
			"--expect-hwid", testHWID, "--verbose", "--registry")
		require.NoError(t, err)
		assert.Contains(t, output, "Status:  valid")
		assert.Contains(t, output, "Client:  Acme Corp")
		assert.Contains(t, output, "Registry: found=true")
		assert.Contains(t, output, "check_blacklist")
	})

	t.Run("validate_other_machine", func(t *testing.T) {
		output, err := runCLI(t, home, "validate", "--file", licensePath,
			"--expect-hwid", strings.Repeat("cd", 32))
		var ee *exitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, exitInvalidLicense, ee.code)
		assert.Contains(t, output, string(domain.StatusHardwareMismatch))
	})

	t.Run("list", func(t *testing.T) {
		output, err := runCLI(t, home, "list", "--client", "acme")
		require.NoError(t, err)
		assert.Contains(t, output, rec.ID)
		assert.Contains(t, output, "Acme Corp")
		assert.Contains(t, output, "active")

		output, err = runCLI(t, home, "list", "--revoked")
		require.NoError(t, err)
		assert.Contains(t, output, "No licenses found")
	})

	t.Run("show", func(t *testing.T) {
		output, err := runCLI(t, home, "show", rec.ID)
		require.NoError(t, err)

		var shown domain.LicenseRecord
		require.NoError(t, json.Unmarshal([]byte(output), &shown))
		assert.Equal(t, rec.ID, shown.ID)
		assert.Equal(t, rec.Signature, shown.Signature)

		_, err = runCLI(t, home, "show", "0000000000000000")
		assert.True(t, errors.Is(err, apperrors.ErrLicenseNotFound))
	})

	t.Run("revoke", func(t *testing.T) {
		output, err := runCLI(t, home, "revoke", rec.ID, "--reason", "chargeback")
		require.NoError(t, err)
		assert.Contains(t, output, "License "+rec.ID+" revoked")
		assert.Contains(t, output, "(1 entries)")

		output, err = runCLI(t, home, "revoke", rec.ID, "--no-export")
		require.NoError(t, err)
		assert.Contains(t, output, "already revoked")
		assert.NotContains(t, output, "Blacklist written")
	})

	t.Run("validate_revoked", func(t *testing.T) {
		output, err := runCLI(t, home, "validate", "--file", licensePath,
			"--expect-hwid", testHWID, "--json")
		var ee *exitError
		require.ErrorAs(t, err, &ee)

		var result domain.ValidationResult
		require.NoError(t, json.Unmarshal([]byte(output), &result))
		assert.Equal(t, domain.StatusRevoked, result.Status)
	})

	t.Run("stats", func(t *testing.T) {
		output, err := runCLI(t, home, "stats", "--json")
		require.NoError(t, err)

		var stats domain.RegistryStats
		require.NoError(t, json.Unmarshal([]byte(output), &stats))
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.Revoked)
		assert.Equal(t, 1, stats.ByTier[domain.LicenseTypePro])
	})

	t.Run("export", func(t *testing.T) {
		reportPath := filepath.Join(home, "report.csv")
		output, err := runCLI(t, home, "export", "--format", "csv", "--out", reportPath)
		require.NoError(t, err)
		assert.Contains(t, output, reportPath)
		assert.FileExists(t, reportPath)

		_, err = runCLI(t, home, "export", "--format", "pdf")
		assert.Error(t, err)
	})
}

func TestRunGenerateCommandValidation(t *testing.T) {
	home := t.TempDir()
	_, err := runCLI(t, home, "keygen")
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{
			name: "missing_client",
			args: []string{"generate", "--hwid", testHWID},
		},
		{
			name:    "unknown_tier",
			args:    []string{"generate", "--client", "Acme", "--type", "GOLD", "--hwid", testHWID},
			wantErr: apperrors.ErrUnknownTier,
		},
		{
			name:    "basic_with_users",
			args:    []string{"generate", "--client", "Acme", "--type", "BASIC", "--hwid", testHWID, "--max-users", "3"},
			wantErr: apperrors.ErrInvalidMaxUsers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, home, tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestUppercaseHardwareIDValidates(t *testing.T) {
	home := t.TempDir()
	licensePath := filepath.Join(home, "license.json")
	_, err := runCLI(t, home, "keygen")
	require.NoError(t, err)

	upper := strings.ToUpper(testHWID)
	rec := issue(t, home, "--client", "Acme", "--hwid", upper, "--out", licensePath)
	assert.Equal(t, testHWID, rec.HardwareID)

	output, err := runCLI(t, home, "validate", "--file", licensePath, "--expect-hwid", testHWID)
	require.NoError(t, err)
	assert.Contains(t, output, "Status:  valid")
}

func TestValidateWithoutLicense(t *testing.T) {
	home := t.TempDir()
	_, err := runCLI(t, home, "keygen")
	require.NoError(t, err)

	output, err := runCLI(t, home, "validate", "--no-hardware")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, output, "Status:  not_found")
}

func TestRootCommandAssignsTraceID(t *testing.T) {
	t.Setenv(config.HomeEnv, t.TempDir())
	root := newRootCommand()
	version, _, err := root.Find([]string{"version"})
	require.NoError(t, err)

	version.SetContext(context.Background())
	require.NoError(t, root.PersistentPreRunE(version, nil))
	assert.NotEmpty(t, infrastructure.GetTraceID(version.Context()))
}

func TestRunVersionCommand(t *testing.T) {
	output, err := runCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, config.AppVersion+"\n", output)
}
