package license

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/shared/testutil"
	"licensekit/pkg/contracts/domain"
)

func newTestSigner(t *testing.T, opts ...SignerOption) (*Signer, *testutil.BufferedSlogHandler) {
	t.Helper()
	key, _ := testutil.RSAKeys(t)
	logger, handler := testutil.NewTestLogger(t)
	base := []SignerOption{
		WithSignerClock(fixedClock(issueTime)),
		WithSignerLocation(time.UTC),
		WithSignerLogger(logger),
	}
	return NewSigner(staticKeys{key: key}, append(base, opts...)...), handler
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	recorder := newMemoryRecorder()
	signer, handler := newTestSigner(t, WithOutputDir(dir), WithRecorder(recorder))

	result, err := signer.Generate(context.Background(), GenerateRequest{
		Client:      "  Acme  ",
		LicenseType: "pro",
		HardwareID:  testutil.HardwareID('a'),
		Notes:       "first install",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	record := result.Record
	assert.Equal(t, "Acme", record.Client)
	assert.Equal(t, domain.LicenseTypePro, record.LicenseType)
	assert.Equal(t, "2026-01-10", record.Expires)
	assert.Equal(t, "2025-01-10T12:00:00.000Z", record.IssuedAt)
	assert.Equal(t, CurrentVersion, record.Version)
	require.NotNil(t, record.MaxUsers)
	assert.Equal(t, 5, *record.MaxUsers)
	assert.Equal(t, "310d6f623c795c8b", record.ID)
	assert.Equal(t, "first install", record.Notes)
	assert.False(t, record.Revoked)

	assert.Equal(t, filepath.Join(dir, "license-310d6f623c795c8b.json"), record.FilePath)
	data, err := os.ReadFile(record.FilePath)
	require.NoError(t, err)

	var onDisk domain.License
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, record.License, onDisk)

	key, _ := testutil.RSAKeys(t)
	assert.NoError(t, VerifySignature(&key.PublicKey, &onDisk))

	_, err = recorder.GetByID(context.Background(), record.ID)
	assert.NoError(t, err)
	assert.True(t, handler.ContainsMessage("license issued"))
	testutil.AssertNoErrors(t, handler)
}

func TestGenerateWithoutOutput(t *testing.T) {
	signer, _ := newTestSigner(t)

	result, err := signer.Generate(context.Background(), GenerateRequest{
		Client:      "Acme",
		LicenseType: "ENTERPRISE",
		HardwareID:  testutil.HardwareID('B'),
		Expires:     "2025-01-10",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Record.FilePath)
	assert.Nil(t, result.Record.MaxUsers)
	assert.Equal(t, "2025-01-10", result.Record.Expires, "today is an acceptable expiry")
	assert.Equal(t, testutil.HardwareID('b'), result.Record.HardwareID, "hardware ids are stored lowercase")
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerateRequest
		wantErr error
	}{
		{
			name:    "empty client",
			req:     GenerateRequest{Client: "   ", LicenseType: "PRO", HardwareID: testutil.HardwareID('a')},
			wantErr: apperrors.ErrInvalidClient,
		},
		{
			name:    "short hardware id",
			req:     GenerateRequest{Client: "Acme", LicenseType: "PRO", HardwareID: "abc"},
			wantErr: apperrors.ErrInvalidHardwareID,
		},
		{
			name:    "non hex hardware id",
			req:     GenerateRequest{Client: "Acme", LicenseType: "PRO", HardwareID: testutil.HardwareID('g')},
			wantErr: apperrors.ErrInvalidHardwareID,
		},
		{
			name:    "unknown tier",
			req:     GenerateRequest{Client: "Acme", LicenseType: "GOLD", HardwareID: testutil.HardwareID('a')},
			wantErr: apperrors.ErrUnknownTier,
		},
		{
			name:    "missing tier",
			req:     GenerateRequest{Client: "Acme", HardwareID: testutil.HardwareID('a')},
			wantErr: apperrors.ErrUnknownTier,
		},
		{
			name:    "malformed expiry",
			req:     GenerateRequest{Client: "Acme", LicenseType: "PRO", HardwareID: testutil.HardwareID('a'), Expires: "2026/01/10"},
			wantErr: apperrors.ErrInvalidExpiration,
		},
		{
			name:    "past expiry",
			req:     GenerateRequest{Client: "Acme", LicenseType: "PRO", HardwareID: testutil.HardwareID('a'), Expires: "2025-01-09"},
			wantErr: apperrors.ErrInvalidExpiration,
		},
		{
			name:    "users on demo",
			req:     GenerateRequest{Client: "Acme", LicenseType: "DEMO", HardwareID: testutil.HardwareID('a'), MaxUsers: intPtr(2)},
			wantErr: apperrors.ErrInvalidMaxUsers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			recorder := newMemoryRecorder()
			signer, _ := newTestSigner(t, WithOutputDir(dir), WithRecorder(recorder))

			result, err := signer.Generate(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing is written on a rejected request")
			assert.Empty(t, recorder.records)
		})
	}
}

func TestGenerateMissingKey(t *testing.T) {
	signer := NewSigner(staticKeys{err: apperrors.ErrKeyNotFound},
		WithSignerClock(fixedClock(issueTime)),
		WithSignerLogger(testutil.NopLogger()))

	_, err := signer.Generate(context.Background(), GenerateRequest{
		Client: "Acme", LicenseType: "PRO", HardwareID: testutil.HardwareID('a'),
	})
	assert.ErrorIs(t, err, apperrors.ErrKeyNotFound)
}

func TestGenerateRegistryFailureIsWarning(t *testing.T) {
	dir := t.TempDir()
	recorder := newMemoryRecorder()
	recorder.err = errors.New("disk full")
	signer, handler := newTestSigner(t, WithOutputDir(dir), WithRecorder(recorder))

	result, err := signer.Generate(context.Background(), GenerateRequest{
		Client: "Acme", LicenseType: "BASIC", HardwareID: testutil.HardwareID('c'),
	})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "disk full")
	assert.FileExists(t, result.Record.FilePath)

	testutil.AssertLogContains(t, handler, slog.LevelWarn, "license issued but not recorded in registry")
}

func TestGenerateExplicitOutputPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "acme.json")
	signer, _ := newTestSigner(t)

	result, err := signer.Generate(context.Background(), GenerateRequest{
		Client: "Acme", LicenseType: "PRO", HardwareID: testutil.HardwareID('a'), OutputPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, path, result.Record.FilePath)
	assert.FileExists(t, path)
}
