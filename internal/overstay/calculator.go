package overstay

import "math"

// Penalty is the outcome of a penalty calculation.
type Penalty struct {
	PenaltyDays      int
	DailyChargeCents int64
	TotalCents       int64
}

// Calculate converts days overdue, the effective configuration and the
// booking's daily rate into a penalty amount. Pure function, no side
// effects.
//
// Days inside the grace period accrue nothing; days beyond
// gracePeriodDays+maxPenaltyDays are capped. Rounding is half-up at the
// per-day charge, not at the total, so per-day amounts stay consistent
// across audits.
func Calculate(daysOverdue int, cfg PenaltyConfig, dailyRateCents int64) Penalty {
	penaltyDays := daysOverdue - cfg.GracePeriodDays
	if penaltyDays < 0 {
		penaltyDays = 0
	}
	if penaltyDays > cfg.MaxPenaltyDays {
		penaltyDays = cfg.MaxPenaltyDays
	}
	dailyCharge := int64(math.Floor(float64(dailyRateCents)*(1+cfg.PenaltyRate) + 0.5))
	return Penalty{
		PenaltyDays:      penaltyDays,
		DailyChargeCents: dailyCharge,
		TotalCents:       dailyCharge * int64(penaltyDays),
	}
}
