package license

import (
	"fmt"
	"strings"

	apperrors "licensekit/internal/errors"
	"licensekit/pkg/contracts/domain"
)

// Feature names
const (
	FeatureSales           = "sales"
	FeatureInventory       = "inventory"
	FeatureReports         = "reports"
	FeatureMultiUser       = "multi_user"
	FeatureExport          = "export"
	FeatureBackup          = "backup"
	FeatureAPIAccess       = "api_access"
	FeatureMultiStore      = "multi_store"
	FeaturePrioritySupport = "priority_support"
)

// Tier describes what a license type grants.
//
// User counts follow one of three policies: FixedUsers > 0 pins the value and
// rejects requested counts; DefaultUsers > 0 is used when nothing is requested;
// otherwise maxUsers is omitted (unlimited) unless requested.
type Tier struct {
	Type         domain.LicenseType
	DefaultDays  int
	Features     []string
	FixedUsers   int
	DefaultUsers int
	MinUsers     int
	MaxUsers     int // 0 means no upper bound
}

var (
	demoFeatures       = []string{FeatureSales, FeatureInventory}
	basicFeatures      = []string{FeatureSales, FeatureInventory, FeatureReports}
	proFeatures        = []string{FeatureSales, FeatureInventory, FeatureReports, FeatureMultiUser, FeatureExport, FeatureBackup}
	enterpriseFeatures = append(append([]string{}, proFeatures...), FeatureAPIAccess, FeatureMultiStore, FeaturePrioritySupport)
)

var tiers = map[domain.LicenseType]Tier{
	domain.LicenseTypeDemo: {
		Type:        domain.LicenseTypeDemo,
		DefaultDays: 30,
		Features:    demoFeatures,
		FixedUsers:  1,
	},
	domain.LicenseTypeBasic: {
		Type:        domain.LicenseTypeBasic,
		DefaultDays: 365,
		Features:    basicFeatures,
		FixedUsers:  1,
	},
	domain.LicenseTypePro: {
		Type:         domain.LicenseTypePro,
		DefaultDays:  365,
		Features:     proFeatures,
		DefaultUsers: 5,
		MinUsers:     1,
		MaxUsers:     25,
	},
	domain.LicenseTypeEnterprise: {
		Type:        domain.LicenseTypeEnterprise,
		DefaultDays: 365,
		Features:    enterpriseFeatures,
		MinUsers:    1,
	},
}

// LookupTier returns the tier for a license type
func LookupTier(t domain.LicenseType) (Tier, error) {
	tier, ok := tiers[t]
	if !ok {
		return Tier{}, fmt.Errorf("%q: %w", t, apperrors.ErrUnknownTier)
	}
	return tier, nil
}

// ParseLicenseType accepts a tier name in any case
func ParseLicenseType(s string) (domain.LicenseType, error) {
	t := domain.LicenseType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := tiers[t]; !ok {
		return "", fmt.Errorf("%q: %w", s, apperrors.ErrUnknownTier)
	}
	return t, nil
}

// FeatureList returns a copy of the tier's features
func (t Tier) FeatureList() []string {
	return append([]string(nil), t.Features...)
}

// ResolveMaxUsers applies the tier's user policy to a requested count
func (t Tier) ResolveMaxUsers(requested *int) (*int, error) {
	if t.FixedUsers > 0 {
		if requested != nil {
			return nil, fmt.Errorf("%s licenses do not take a user count: %w", t.Type, apperrors.ErrInvalidMaxUsers)
		}
		n := t.FixedUsers
		return &n, nil
	}

	if requested == nil {
		if t.DefaultUsers == 0 {
			return nil, nil
		}
		n := t.DefaultUsers
		return &n, nil
	}

	n := *requested
	if n < t.MinUsers || (t.MaxUsers > 0 && n > t.MaxUsers) {
		return nil, fmt.Errorf("%d users is outside the %s range: %w", n, t.Type, apperrors.ErrInvalidMaxUsers)
	}
	return &n, nil
}
