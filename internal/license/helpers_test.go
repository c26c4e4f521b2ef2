package license

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/shared/testutil"
	"licensekit/pkg/contracts/domain"
)

var issueTime = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type staticKeys struct {
	key *rsa.PrivateKey
	err error
}

func (k staticKeys) PrivateKey() (*rsa.PrivateKey, error) {
	return k.key, k.err
}

type memoryRecorder struct {
	mu      sync.Mutex
	records map[string]domain.LicenseRecord
	err     error
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{records: map[string]domain.LicenseRecord{}}
}

func (r *memoryRecorder) Add(_ context.Context, record domain.LicenseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records[record.ID] = record
	return nil
}

func (r *memoryRecorder) GetByID(_ context.Context, id string) (*domain.LicenseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, apperrors.ErrLicenseNotFound
	}
	return &record, nil
}

func samplePayload() domain.LicensePayload {
	maxUsers := 5
	return domain.LicensePayload{
		Client:      "Acme",
		LicenseType: domain.LicenseTypePro,
		HardwareID:  testutil.HardwareID('a'),
		Expires:     "2026-01-10",
		Version:     CurrentVersion,
		IssuedAt:    "2025-01-10T12:00:00.000Z",
		Features:    []string{FeatureSales, FeatureInventory},
		MaxUsers:    &maxUsers,
	}
}

// signedArtifact signs the sample payload after mutate and returns the file bytes
func signedArtifact(t *testing.T, key *rsa.PrivateKey, mutate func(*domain.LicensePayload)) []byte {
	t.Helper()
	payload := samplePayload()
	if mutate != nil {
		mutate(&payload)
	}
	sig, err := SignPayload(key, &payload)
	require.NoError(t, err)

	data, err := json.MarshalIndent(domain.License{LicensePayload: payload, Signature: sig}, "", "  ")
	require.NoError(t, err)
	return data
}

func newTestValidator(t *testing.T, pub *rsa.PublicKey, now time.Time, opts ...ValidatorOption) *Validator {
	t.Helper()
	base := []ValidatorOption{
		WithClock(fixedClock(now)),
		WithLocation(time.UTC),
		WithLogger(testutil.NopLogger()),
	}
	v, err := NewValidator(pub, append(base, opts...)...)
	require.NoError(t, err)
	return v
}
