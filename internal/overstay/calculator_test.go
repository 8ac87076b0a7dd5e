package overstay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateWithinGracePeriodIsZero(t *testing.T) {
	cfg := PenaltyConfig{GracePeriodDays: 3, PenaltyRate: 0.10, MaxPenaltyDays: 30}
	for days := 0; days <= cfg.GracePeriodDays; days++ {
		p := Calculate(days, cfg, 2000)
		require.Zero(t, p.PenaltyDays, "daysOverdue=%d", days)
		require.Zero(t, p.TotalCents, "daysOverdue=%d", days)
	}
}

func TestCalculateBeyondGracePeriod(t *testing.T) {
	cfg := PenaltyConfig{GracePeriodDays: 3, PenaltyRate: 0.10, MaxPenaltyDays: 30}

	p := Calculate(5, cfg, 2000)
	require.Equal(t, 2, p.PenaltyDays)
	require.Equal(t, int64(2200), p.DailyChargeCents)
	require.Equal(t, int64(4400), p.TotalCents)
}

func TestCalculateCapsAtMaxPenaltyDays(t *testing.T) {
	cfg := PenaltyConfig{GracePeriodDays: 3, PenaltyRate: 0.10, MaxPenaltyDays: 30}

	p := Calculate(50, cfg, 2000)
	require.Equal(t, 30, p.PenaltyDays)
	require.Equal(t, int64(66000), p.TotalCents)

	further := Calculate(500, cfg, 2000)
	require.Equal(t, p.TotalCents, further.TotalCents)
}

func TestCalculateRoundsHalfUpPerDay(t *testing.T) {
	// 1333 * 1.15 = 1532.95 -> 1533 per day, not rounded at the total.
	cfg := PenaltyConfig{GracePeriodDays: 0, PenaltyRate: 0.15, MaxPenaltyDays: 30}
	p := Calculate(3, cfg, 1333)
	require.Equal(t, int64(1533), p.DailyChargeCents)
	require.Equal(t, int64(4599), p.TotalCents)
}

func TestCalculatePenaltyDaysProperty(t *testing.T) {
	cfg := PenaltyConfig{GracePeriodDays: 5, PenaltyRate: 0.20, MaxPenaltyDays: 10}
	for days := 6; days <= 40; days++ {
		p := Calculate(days, cfg, 1000)
		want := days - cfg.GracePeriodDays
		if want > cfg.MaxPenaltyDays {
			want = cfg.MaxPenaltyDays
		}
		require.Equal(t, want, p.PenaltyDays, "daysOverdue=%d", days)
	}
}
