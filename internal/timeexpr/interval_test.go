package timeexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseIntervalVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "10m", want: 10 * time.Minute},
		{raw: "2h30m", want: 150 * time.Minute},
		{raw: "01:30", want: 90 * time.Minute},
		{raw: "every 45m", want: 45 * time.Minute},
		{raw: "every 2 hours", want: 2 * time.Hour},
		{raw: "30 seconds", want: 30 * time.Second},
		{raw: "day", want: 24 * time.Hour},
		{raw: "Daily", want: 24 * time.Hour},
		{raw: "weekly", want: 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.raw)
		require.NoErrorf(t, err, "ParseInterval(%q)", tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseIntervalInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "every", "0m", "00:00", "-5m", "3 fortnights", "01:75", "soon please", "99999999999w", "every 9999999999999 hours"} {
		_, err := ParseInterval(raw)
		require.Errorf(t, err, "ParseInterval(%q) should fail", raw)
	}
}
