package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensekit/internal/errors"
)

func TestExpiresAt(t *testing.T) {
	end, err := ExpiresAt("2025-01-10", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 10, 23, 59, 59, int(999*time.Millisecond), time.UTC), end)

	for _, bad := range []string{"", "2025-1-10", "10/01/2025", "2025-02-30", "2025-01-10T00:00:00Z"} {
		_, err := ExpiresAt(bad, time.UTC)
		assert.ErrorIs(t, err, apperrors.ErrInvalidExpiration, bad)
	}
}

func TestIsExpiredBoundary(t *testing.T) {
	assert.False(t, IsExpired("2025-01-10", time.UTC, time.Date(2025, 1, 10, 23, 59, 59, 0, time.UTC)))
	assert.False(t, IsExpired("2025-01-10", time.UTC, time.Date(2025, 1, 10, 23, 59, 59, int(999*time.Millisecond), time.UTC)))
	assert.True(t, IsExpired("2025-01-10", time.UTC, time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsExpired("garbage", time.UTC, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestExpiryFollowsLocation(t *testing.T) {
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	// 2025-01-10T16:00Z is already 2025-01-11 in UTC+9
	now := time.Date(2025, 1, 10, 16, 0, 0, 0, time.UTC)

	assert.False(t, IsExpired("2025-01-10", time.UTC, now))
	assert.True(t, IsExpired("2025-01-10", tokyo, now))
}

func TestDaysRemaining(t *testing.T) {
	end, err := ExpiresAt("2025-01-10", time.UTC)
	require.NoError(t, err)

	tests := []struct {
		now  time.Time
		want int
	}{
		{now: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), want: 1},
		{now: time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC), want: 2},
		{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), want: 10},
		{now: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC), want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DaysRemaining(end, tt.now), tt.now.String())
	}
}
