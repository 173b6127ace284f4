package system

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

var _ scraper.Clock = (*Clock)(nil)

func TestClockNowCurrent(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	require.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

func TestClockNowNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}

// Durations computed from two readings must come from the monotonic clock.
func TestClockNowKeepsMonotonicReading(t *testing.T) {
	t.Parallel()

	got := New().Now()
	require.True(t, strings.Contains(got.String(), " m="), "missing monotonic reading in %s", got)
	require.False(t, strings.Contains(got.Round(0).String(), " m="))
}
