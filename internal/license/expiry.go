package license

import (
	"fmt"
	"math"
	"time"

	apperrors "licensekit/internal/errors"
	"licensekit/pkg/contracts/domain"
)

// ParseDate parses a YYYY-MM-DD date at midnight in loc. The input must be in
// canonical form, so "2025-1-10" is rejected.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(domain.DateLayout, value, loc)
	if err != nil || day.Format(domain.DateLayout) != value {
		return time.Time{}, fmt.Errorf("%q is not a YYYY-MM-DD date: %w", value, apperrors.ErrInvalidExpiration)
	}
	return day, nil
}

// ExpiresAt returns the last instant a license is valid: 23:59:59.999 on the
// expiry date in loc
func ExpiresAt(expires string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(expires, loc)
	if err != nil {
		return time.Time{}, err
	}
	return day.AddDate(0, 0, 1).Add(-time.Millisecond), nil
}

// IsExpired reports whether a license expiring on the given date is expired
// at now. Unparsable dates count as expired.
func IsExpired(expires string, loc *time.Location, now time.Time) bool {
	end, err := ExpiresAt(expires, loc)
	if err != nil {
		return true
	}
	return now.After(end)
}

// DaysRemaining rounds the time left up to whole days
func DaysRemaining(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / float64(24*time.Hour)))
}
