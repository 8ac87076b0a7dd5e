package overstay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates overstay record statuses.
type Status string

const (
	StatusDetected        Status = "detected"
	StatusGracePeriod     Status = "grace_period"
	StatusPendingReview   Status = "pending_review"
	StatusPenaltyApproved Status = "penalty_approved"
	StatusPenaltyWaived   Status = "penalty_waived"
	StatusChargePending   Status = "charge_pending"
	StatusChargeSucceeded Status = "charge_succeeded"
	StatusChargeFailed    Status = "charge_failed"
	StatusResolved        Status = "resolved"
	StatusEscalated       Status = "escalated"
)

// EventType enumerates history entry kinds.
type EventType string

const (
	EventStatusChange    EventType = "status_change"
	EventManagerDecision EventType = "manager_decision"
	EventChargeAttempt   EventType = "charge_attempt"
)

// EventSource enumerates who caused a history entry.
type EventSource string

const (
	SourceCron    EventSource = "cron"
	SourceManager EventSource = "manager"
	SourceSystem  EventSource = "system"
)

// DecisionAction enumerates manager decision actions.
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionAdjust  DecisionAction = "adjust"
	ActionWaive   DecisionAction = "waive"
)

// Record is one overstay episode of one storage booking.
type Record struct {
	ID                     uuid.UUID
	BookingID              int64
	Status                 Status
	DaysOverdue            int
	DailyRateCents         int64
	PenaltyRate            float64
	GracePeriodEndsAt      time.Time
	CalculatedPenaltyCents int64
	FinalPenaltyCents      *int64
	ApprovedBy             *int64
	ApprovedAt             *time.Time
	Waived                 bool
	WaiveReason            *string
	ManagerNotes           *string
	StripePaymentIntentID  *string
	StripeChargeID         *string
	ChargeAttemptedAt      *time.Time
	ChargeSucceededAt      *time.Time
	ChargeFailedAt         *time.Time
	ChargeFailureReason    *string
	ResolvedAt             *time.Time
	ResolutionType         *string
	IdempotencyKey         string
	DetectedAt             time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// HistoryEntry is an append-only audit event for a record.
type HistoryEntry struct {
	ID        uuid.UUID
	RecordID  uuid.UUID
	EventType EventType
	Source    EventSource
	Payload   map[string]any
	CreatedAt time.Time
}

// PenaltyConfig is the effective penalty configuration for a booking.
type PenaltyConfig struct {
	GracePeriodDays int
	PenaltyRate     float64
	MaxPenaltyDays  int
}

// DefaultPenaltyConfig is the hardcoded fallback used when no override
// level resolves.
var DefaultPenaltyConfig = PenaltyConfig{
	GracePeriodDays: 3,
	PenaltyRate:     0.10,
	MaxPenaltyDays:  30,
}

// DecisionInput carries a manager's approve/adjust/waive decision.
type DecisionInput struct {
	RecordID          uuid.UUID
	ManagerID         int64
	Action            DecisionAction
	FinalPenaltyCents *int64
	WaiveReason       string
	ManagerNotes      string
}

// DetectionResult summarises one booking processed by a sweep.
type DetectionResult struct {
	BookingID              int64     `json:"booking_id"`
	RecordID               uuid.UUID `json:"record_id"`
	DaysOverdue            int       `json:"days_overdue"`
	InGracePeriod          bool      `json:"in_grace_period"`
	CalculatedPenaltyCents int64     `json:"calculated_penalty_cents"`
	Status                 Status    `json:"status"`
	Created                bool      `json:"created"`
}

// PendingReview is a record joined with booking descriptive fields for
// manager triage.
type PendingReview struct {
	Record       Record
	ListingName  string
	LocationName string
	ChefName     string
	ChefEmail    string
	BookingEnd   time.Time
}

// Stats aggregates record counts and penalty totals for dashboards.
type Stats struct {
	ByStatus                map[Status]int64 `json:"by_status"`
	TotalPenaltiesCollected int64            `json:"total_penalties_collected_cents"`
	TotalPenaltiesWaived    int64            `json:"total_penalties_waived_cents"`
	PendingReviewCount      int64            `json:"pending_review_count"`
	FailedChargeReviewCount int64            `json:"failed_charge_review_count"`
}

// IdempotencyKey derives the per-episode key from the booking id and its
// end date normalized to a UTC calendar day.
func IdempotencyKey(bookingID int64, endDate time.Time) string {
	return fmt.Sprintf("%d:%s", bookingID, endDate.UTC().Format("2006-01-02"))
}
