package booking

import (
	"math"
	"time"
)

// BookingStatus enumerates storage booking statuses.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// PaymentStatus enumerates booking payment statuses.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentRefund  PaymentStatus = "refunded"
)

// PricingModel enumerates how a booking's total price was quoted.
type PricingModel string

const (
	PricingDaily   PricingModel = "daily"
	PricingWeekly  PricingModel = "weekly"
	PricingMonthly PricingModel = "monthly"
)

// Booking is the read-only view of a storage booking owned by the
// booking domain. The overstay engine never writes it.
type Booking struct {
	ID               int64
	ListingID        int64
	LocationID       int64
	ChefID           int64
	Status           BookingStatus
	PaymentStatus    PaymentStatus
	StartDate        time.Time
	EndDate          time.Time
	TotalPriceCents  int64
	PricingModel     PricingModel
	StripeCustomerID *string
	PaymentMethodID  *string
}

// DailyRateCents derives the per-day rate from the booking's stored
// pricing. Weekly and monthly quotes are normalized to calendar days and
// rounded half-up.
func (b Booking) DailyRateCents() int64 {
	switch b.PricingModel {
	case PricingWeekly:
		return roundHalfUp(float64(b.TotalPriceCents) / (7 * b.periods()))
	case PricingMonthly:
		return roundHalfUp(float64(b.TotalPriceCents) / (30 * b.periods()))
	default:
		days := b.durationDays()
		if days <= 0 {
			return b.TotalPriceCents
		}
		return roundHalfUp(float64(b.TotalPriceCents) / float64(days))
	}
}

func (b Booking) durationDays() int {
	return int(b.EndDate.Sub(b.StartDate).Hours() / 24)
}

func (b Booking) periods() float64 {
	days := b.durationDays()
	if days <= 0 {
		return 1
	}
	switch b.PricingModel {
	case PricingWeekly:
		return math.Max(1, float64(days)/7)
	case PricingMonthly:
		return math.Max(1, float64(days)/30)
	default:
		return 1
	}
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

// HasPaymentMethod reports whether the booking carries both a stored
// customer and a payment-method reference.
func (b Booking) HasPaymentMethod() bool {
	return b.StripeCustomerID != nil && *b.StripeCustomerID != "" &&
		b.PaymentMethodID != nil && *b.PaymentMethodID != ""
}

// PenaltyOverride is one level of penalty configuration owned by the
// settings domain. Unset fields fall through to the next level.
type PenaltyOverride struct {
	GracePeriodDays *int
	PenaltyRate     *float64
	MaxPenaltyDays  *int
}
