package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensekit/internal/errors"
	"licensekit/pkg/contracts/domain"
)

func intPtr(n int) *int { return &n }

func TestLookupTier(t *testing.T) {
	for _, lt := range domain.AllLicenseTypes {
		tier, err := LookupTier(lt)
		require.NoError(t, err)
		assert.Equal(t, lt, tier.Type)
		assert.NotEmpty(t, tier.Features)
	}

	_, err := LookupTier("PLATINUM")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTier)
}

func TestTierFeatures(t *testing.T) {
	pro, err := LookupTier(domain.LicenseTypePro)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "inventory", "reports", "multi_user", "export", "backup"}, pro.FeatureList())

	enterprise, err := LookupTier(domain.LicenseTypeEnterprise)
	require.NoError(t, err)
	assert.Subset(t, enterprise.Features, pro.Features)
	assert.Contains(t, enterprise.Features, FeatureAPIAccess)

	demo, err := LookupTier(domain.LicenseTypeDemo)
	require.NoError(t, err)
	assert.Equal(t, 30, demo.DefaultDays)

	features := pro.FeatureList()
	features[0] = "changed"
	assert.Equal(t, FeatureSales, pro.Features[0], "FeatureList returns a copy")
}

func TestParseLicenseType(t *testing.T) {
	lt, err := ParseLicenseType(" pro ")
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseTypePro, lt)

	_, err = ParseLicenseType("gold")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTier)
}

func TestResolveMaxUsers(t *testing.T) {
	tests := []struct {
		name      string
		tier      domain.LicenseType
		requested *int
		want      *int
		wantErr   bool
	}{
		{name: "demo fixed", tier: domain.LicenseTypeDemo, want: intPtr(1)},
		{name: "demo rejects request", tier: domain.LicenseTypeDemo, requested: intPtr(3), wantErr: true},
		{name: "basic fixed", tier: domain.LicenseTypeBasic, want: intPtr(1)},
		{name: "basic rejects request", tier: domain.LicenseTypeBasic, requested: intPtr(1), wantErr: true},
		{name: "pro default", tier: domain.LicenseTypePro, want: intPtr(5)},
		{name: "pro in range", tier: domain.LicenseTypePro, requested: intPtr(25), want: intPtr(25)},
		{name: "pro above range", tier: domain.LicenseTypePro, requested: intPtr(26), wantErr: true},
		{name: "pro zero", tier: domain.LicenseTypePro, requested: intPtr(0), wantErr: true},
		{name: "enterprise unlimited", tier: domain.LicenseTypeEnterprise, want: nil},
		{name: "enterprise explicit", tier: domain.LicenseTypeEnterprise, requested: intPtr(500), want: intPtr(500)},
		{name: "enterprise negative", tier: domain.LicenseTypeEnterprise, requested: intPtr(-1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := LookupTier(tt.tier)
			require.NoError(t, err)

			got, err := tier.ResolveMaxUsers(tt.requested)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidMaxUsers)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
