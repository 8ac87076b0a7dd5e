package overstay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/storably/overstay/internal/booking"
	"github.com/storably/overstay/internal/payments"
)

// BookingPort defines read-only access to the booking domain.
type BookingPort interface {
	GetBooking(ctx context.Context, id int64) (*booking.Booking, error)
	ListOverdue(ctx context.Context, today time.Time) ([]booking.Booking, error)
}

// RecordMutation lists the record fields a transition may set. Nil fields
// are left untouched.
type RecordMutation struct {
	DaysOverdue            *int
	CalculatedPenaltyCents *int64
	FinalPenaltyCents      *int64
	ApprovedBy             *int64
	ApprovedAt             *time.Time
	Waived                 *bool
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
}

// TransitionUpdate describes one guarded status write. The repository
// must verify the record's current status is one of From inside the same
// transaction that writes To, the mutation and the history entry; a
// racing writer that already changed the status makes the guard fail
// with ErrInvalidState.
type TransitionUpdate struct {
	RecordID uuid.UUID
	From     []Status
	To       Status
	Fields   RecordMutation
}

// DetectionUpdate refreshes a non-terminal record during a sweep.
type DetectionUpdate struct {
	RecordID               uuid.UUID
	DaysOverdue            int
	CalculatedPenaltyCents int64
	TransitionTo           *Status
}

// RepositoryPort defines data access for overstay records. Every method
// that mutates a record appends its history entry in the same
// transaction.
type RepositoryPort interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	FindActiveByKey(ctx context.Context, key string) (*Record, error)
	CreateRecord(ctx context.Context, rec *Record, entry HistoryEntry) (*Record, error)
	UpdateDetection(ctx context.Context, update DetectionUpdate, entry HistoryEntry) (*Record, error)
	ApplyTransition(ctx context.Context, update TransitionUpdate, entry HistoryEntry) (*Record, error)
	ListHistory(ctx context.Context, recordID uuid.UUID) ([]HistoryEntry, error)
	ListPendingReviews(ctx context.Context) ([]PendingReview, error)
	CollectStats(ctx context.Context) (Stats, error)
}

// Service is the overstay penalty engine: detection, manager decisions,
// charge execution and audit queries.
type Service struct {
	repo      RepositoryPort
	bookings  BookingPort
	resolver  *Resolver
	processor payments.Processor
	logger    *slog.Logger
	clock     func() time.Time
	collected func(cents int64)
	statsSF   singleflight.Group
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, bookings BookingPort, resolver *Resolver, processor payments.Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		bookings:  bookings,
		resolver:  resolver,
		processor: processor,
		logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithCollectedHook registers a callback invoked with the amount of each
// successfully collected penalty.
func (s *Service) WithCollectedHook(hook func(cents int64)) *Service {
	s.collected = hook
	return s
}

// transition performs one guarded status write plus its audit entry. It
// refuses transitions outside the state machine table before touching the
// repository.
func (s *Service) transition(ctx context.Context, rec *Record, to Status, source EventSource, fields RecordMutation, payload map[string]any) (*Record, error) {
	if !CanTransition(rec.Status, to) {
		return nil, invalidTransition(rec.Status, to)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = string(rec.Status)
	payload["to"] = string(to)
	entry := HistoryEntry{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		EventType: EventStatusChange,
		Source:    source,
		Payload:   payload,
		CreatedAt: s.clock(),
	}
	return s.repo.ApplyTransition(ctx, TransitionUpdate{
		RecordID: rec.ID,
		From:     []Status{rec.Status},
		To:       to,
		Fields:   fields,
	}, entry)
}
