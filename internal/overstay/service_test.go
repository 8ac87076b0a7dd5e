package overstay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/storably/overstay/internal/booking"
	"github.com/storably/overstay/internal/payments"
	_ "github.com/storably/overstay/testing"
)

// memoryRepo is an in-memory RepositoryPort with the same guard
// semantics as the SQL repository: a transition whose From set no longer
// matches the stored status fails with ErrInvalidState.
type memoryRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	history map[uuid.UUID][]HistoryEntry

	failFindKey string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records: map[uuid.UUID]*Record{},
		history: map[uuid.UUID][]HistoryEntry{},
	}
}

func (m *memoryRepo) GetRecord(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryRepo) FindActiveByKey(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == m.failFindKey && key != "" {
		return nil, errors.New("storage unavailable")
	}
	for _, rec := range m.records {
		if rec.IdempotencyKey == key && !IsTerminal(rec.Status) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryRepo) CreateRecord(_ context.Context, rec *Record, entry HistoryEntry) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	m.history[rec.ID] = append(m.history[rec.ID], entry)
	out := cp
	return &out, nil
}

func (m *memoryRepo) UpdateDetection(_ context.Context, update DetectionUpdate, entry HistoryEntry) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[update.RecordID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.DaysOverdue = update.DaysOverdue
	rec.CalculatedPenaltyCents = update.CalculatedPenaltyCents
	if update.TransitionTo != nil {
		rec.Status = *update.TransitionTo
	}
	rec.UpdatedAt = entry.CreatedAt
	m.history[rec.ID] = append(m.history[rec.ID], entry)
	cp := *rec
	return &cp, nil
}

func (m *memoryRepo) ApplyTransition(_ context.Context, update TransitionUpdate, entry HistoryEntry) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[update.RecordID]
	if !ok {
		return nil, ErrNotFound
	}
	matched := false
	for _, from := range update.From {
		if rec.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: record is %s", ErrInvalidState, rec.Status)
	}
	rec.Status = update.To
	applyMutation(rec, update.Fields)
	rec.UpdatedAt = entry.CreatedAt
	m.history[rec.ID] = append(m.history[rec.ID], entry)
	cp := *rec
	return &cp, nil
}

func applyMutation(rec *Record, f RecordMutation) {
	if f.DaysOverdue != nil {
		rec.DaysOverdue = *f.DaysOverdue
	}
	if f.CalculatedPenaltyCents != nil {
		rec.CalculatedPenaltyCents = *f.CalculatedPenaltyCents
	}
	if f.FinalPenaltyCents != nil {
		rec.FinalPenaltyCents = f.FinalPenaltyCents
	}
	if f.ApprovedBy != nil {
		rec.ApprovedBy = f.ApprovedBy
	}
	if f.ApprovedAt != nil {
		rec.ApprovedAt = f.ApprovedAt
	}
	if f.Waived != nil {
		rec.Waived = *f.Waived
	}
	if f.WaiveReason != nil {
		rec.WaiveReason = f.WaiveReason
	}
	if f.ManagerNotes != nil {
		rec.ManagerNotes = f.ManagerNotes
	}
	if f.StripePaymentIntentID != nil {
		rec.StripePaymentIntentID = f.StripePaymentIntentID
	}
	if f.StripeChargeID != nil {
		rec.StripeChargeID = f.StripeChargeID
	}
	if f.ChargeAttemptedAt != nil {
		rec.ChargeAttemptedAt = f.ChargeAttemptedAt
	}
	if f.ChargeSucceededAt != nil {
		rec.ChargeSucceededAt = f.ChargeSucceededAt
	}
	if f.ChargeFailedAt != nil {
		rec.ChargeFailedAt = f.ChargeFailedAt
	}
	if f.ChargeFailureReason != nil {
		rec.ChargeFailureReason = f.ChargeFailureReason
	}
	if f.ResolvedAt != nil {
		rec.ResolvedAt = f.ResolvedAt
	}
	if f.ResolutionType != nil {
		rec.ResolutionType = f.ResolutionType
	}
}

func (m *memoryRepo) ListHistory(_ context.Context, recordID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]HistoryEntry, len(m.history[recordID]))
	copy(entries, m.history[recordID])
	return entries, nil
}

func (m *memoryRepo) ListPendingReviews(_ context.Context) ([]PendingReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reviews []PendingReview
	for _, rec := range m.records {
		if Decidable(rec.Status) {
			reviews = append(reviews, PendingReview{Record: *rec})
		}
	}
	return reviews, nil
}

func (m *memoryRepo) CollectStats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{ByStatus: map[Status]int64{}}
	for _, rec := range m.records {
		stats.ByStatus[rec.Status]++
		switch rec.Status {
		case StatusChargeSucceeded:
			if rec.FinalPenaltyCents != nil {
				stats.TotalPenaltiesCollected += *rec.FinalPenaltyCents
			}
		case StatusPenaltyWaived:
			stats.TotalPenaltiesWaived += rec.CalculatedPenaltyCents
		case StatusPendingReview:
			stats.PendingReviewCount++
		case StatusChargeFailed:
			stats.FailedChargeReviewCount++
		}
	}
	return stats, nil
}

// fakeBookings mimics the booking repository's overdue query: only
// confirmed, paid bookings whose end date precedes today are surfaced.
type fakeBookings struct {
	bookings map[int64]booking.Booking
}

func (f *fakeBookings) GetBooking(_ context.Context, id int64) (*booking.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (f *fakeBookings) ListOverdue(_ context.Context, today time.Time) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.bookings {
		if b.Status != booking.StatusConfirmed || b.PaymentStatus != booking.PaymentPaid {
			continue
		}
		if !midnight(b.EndDate).Before(today) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

type fakeProcessor struct {
	result   payments.ChargeResult
	err      error
	requests []payments.ChargeRequest
}

func (f *fakeProcessor) CreateCharge(_ context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type serviceFixture struct {
	svc       *Service
	repo      *memoryRepo
	bookings  *fakeBookings
	processor *fakeProcessor
	now       time.Time
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	fx := &serviceFixture{
		repo:      newMemoryRepo(),
		bookings:  &fakeBookings{bookings: map[int64]booking.Booking{}},
		processor: &fakeProcessor{},
		now:       time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC),
	}
	resolver := NewResolver(&fakeSettings{}, slog.Default())
	fx.svc = NewService(fx.repo, fx.bookings, resolver, fx.processor, slog.Default()).
		WithClock(func() time.Time { return fx.now })
	return fx
}

func (fx *serviceFixture) addBooking(id int64, endDaysAgo int) booking.Booking {
	customer := "cus_123"
	method := "pm_456"
	b := booking.Booking{
		ID:               id,
		ListingID:        id * 10,
		LocationID:       id * 100,
		Status:           booking.StatusConfirmed,
		PaymentStatus:    booking.PaymentPaid,
		StartDate:        fx.now.AddDate(0, 0, -endDaysAgo-30),
		EndDate:          fx.now.AddDate(0, 0, -endDaysAgo),
		TotalPriceCents:  60000,
		PricingModel:     booking.PricingDaily,
		StripeCustomerID: &customer,
		PaymentMethodID:  &method,
	}
	fx.bookings.bookings[id] = b
	return b
}

func TestDetectOverstaysCreatesGracePeriodRecord(t *testing.T) {
	fx := newFixture(t)
	fx.addBooking(1, 2) // 2 days overdue, default grace is 3

	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Created)
	require.True(t, results[0].InGracePeriod)
	require.Equal(t, StatusGracePeriod, results[0].Status)
	require.Equal(t, 2, results[0].DaysOverdue)
	// 30-day booking at 60000 cents is 2000/day; grace swallows both days.
	require.Equal(t, int64(0), results[0].CalculatedPenaltyCents)

	rec, err := fx.repo.GetRecord(context.Background(), results[0].RecordID)
	require.NoError(t, err)
	require.Equal(t, int64(2000), rec.DailyRateCents)
	require.Equal(t, IdempotencyKey(1, fx.bookings.bookings[1].EndDate), rec.IdempotencyKey)
}

func TestDetectOverstaysCreatesPendingReviewPastGrace(t *testing.T) {
	fx := newFixture(t)
	fx.addBooking(1, 5)

	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].InGracePeriod)
	require.Equal(t, StatusPendingReview, results[0].Status)
	// 2 penalty days at 2000 * 1.10 = 2200 each.
	require.Equal(t, int64(4400), results[0].CalculatedPenaltyCents)
}

func TestDetectOverstaysIsIdempotentWithinEpisode(t *testing.T) {
	fx := newFixture(t)
	fx.addBooking(1, 5)

	first, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, first[0].Created)

	second, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.False(t, second[0].Created)
	require.Equal(t, first[0].RecordID, second[0].RecordID)
	require.Len(t, fx.repo.records, 1)
}

func TestDetectOverstaysPromotesGraceToPendingReview(t *testing.T) {
	fx := newFixture(t)
	fx.addBooking(1, 1)

	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, StatusGracePeriod, results[0].Status)

	fx.now = fx.now.AddDate(0, 0, 4) // now 5 days overdue
	results, err = fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Created)
	require.Equal(t, StatusPendingReview, results[0].Status)
	require.Equal(t, 5, results[0].DaysOverdue)
	require.Equal(t, int64(4400), results[0].CalculatedPenaltyCents)
}

func TestDetectOverstaysSkipsCancelledAndUnpaidBookings(t *testing.T) {
	fx := newFixture(t)
	cancelled := fx.addBooking(1, 5)
	cancelled.Status = booking.StatusCancelled
	fx.bookings.bookings[1] = cancelled
	unpaid := fx.addBooking(2, 5)
	unpaid.PaymentStatus = booking.PaymentPending
	fx.bookings.bookings[2] = unpaid

	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)
	require.Empty(t, fx.repo.records)
}

func TestDetectOverstaysIsolatesPerBookingFailures(t *testing.T) {
	fx := newFixture(t)
	broken := fx.addBooking(1, 5)
	fx.addBooking(2, 5)
	fx.repo.failFindKey = IdempotencyKey(broken.ID, broken.EndDate)

	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(2), results[0].BookingID)
	require.Len(t, fx.repo.records, 1)
}

// pendingRecord runs a sweep on a booking past grace and returns the
// resulting pending_review record.
func (fx *serviceFixture) pendingRecord(t *testing.T) *Record {
	t.Helper()
	fx.addBooking(1, 5)
	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	rec, err := fx.repo.GetRecord(context.Background(), results[0].RecordID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingReview, rec.Status)
	return rec
}

func TestProcessDecisionApprove(t *testing.T) {
	fx := newFixture(t)
	rec := fx.pendingRecord(t)

	updated, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID:  rec.ID,
		ManagerID: 42,
		Action:    ActionApprove,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPenaltyApproved, updated.Status)
	require.NotNil(t, updated.FinalPenaltyCents)
	require.Equal(t, rec.CalculatedPenaltyCents, *updated.FinalPenaltyCents)
	require.NotNil(t, updated.ApprovedBy)
	require.Equal(t, int64(42), *updated.ApprovedBy)
	require.NotNil(t, updated.ApprovedAt)

	history, err := fx.repo.ListHistory(context.Background(), rec.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, EventManagerDecision, last.EventType)
	require.Equal(t, SourceManager, last.Source)
	require.Equal(t, "approve", last.Payload["action"])
}

func TestProcessDecisionAdjustLowersPenalty(t *testing.T) {
	fx := newFixture(t)
	rec := fx.pendingRecord(t)

	amount := rec.CalculatedPenaltyCents / 2
	updated, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID:          rec.ID,
		ManagerID:         42,
		Action:            ActionAdjust,
		FinalPenaltyCents: &amount,
		ManagerNotes:      "partial goodwill discount",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPenaltyApproved, updated.Status)
	require.Equal(t, amount, *updated.FinalPenaltyCents)
	require.Equal(t, rec.CalculatedPenaltyCents, updated.CalculatedPenaltyCents)
	require.NotNil(t, updated.ManagerNotes)
}

func TestProcessDecisionAdjustValidation(t *testing.T) {
	fx := newFixture(t)
	rec := fx.pendingRecord(t)

	_, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionAdjust,
	})
	require.ErrorIs(t, err, ErrValidation)

	over := rec.CalculatedPenaltyCents + 1
	_, err = fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionAdjust, FinalPenaltyCents: &over,
	})
	require.ErrorIs(t, err, ErrValidation)

	negative := int64(-1)
	_, err = fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionAdjust, FinalPenaltyCents: &negative,
	})
	require.ErrorIs(t, err, ErrValidation)

	// The record is untouched after rejected decisions.
	current, err := fx.repo.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingReview, current.Status)
	require.Nil(t, current.FinalPenaltyCents)
}

func TestProcessDecisionWaive(t *testing.T) {
	fx := newFixture(t)
	rec := fx.pendingRecord(t)

	updated, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID:    rec.ID,
		ManagerID:   42,
		Action:      ActionWaive,
		WaiveReason: "construction blocked unit access",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPenaltyWaived, updated.Status)
	require.True(t, updated.Waived)
	require.Equal(t, int64(0), *updated.FinalPenaltyCents)
	require.NotNil(t, updated.ResolvedAt)
	require.Equal(t, "waived", *updated.ResolutionType)
	require.True(t, IsTerminal(updated.Status))

	_, err = fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionApprove,
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessDecisionWaiveRequiresReason(t *testing.T) {
	fx := newFixture(t)
	rec := fx.pendingRecord(t)

	_, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionWaive, WaiveReason: "   ",
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestProcessDecisionRejectsUndecidableStatus(t *testing.T) {
	fx := newFixture(t)
	fx.addBooking(1, 1)
	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusGracePeriod, results[0].Status)

	_, err = fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: results[0].RecordID, ManagerID: 42, Action: ActionApprove,
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessDecisionUnknownRecord(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: uuid.New(), ManagerID: 42, Action: ActionApprove,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

// approvedRecord drives a record through detection and approval.
func (fx *serviceFixture) approvedRecord(t *testing.T) *Record {
	t.Helper()
	rec := fx.pendingRecord(t)
	updated, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionApprove,
	})
	require.NoError(t, err)
	return updated
}

func TestChargePenaltySucceeds(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{
		Succeeded:       true,
		PaymentIntentID: "pi_001",
		ChargeID:        "ch_001",
	}

	updated, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusChargeSucceeded, updated.Status)
	require.Equal(t, "pi_001", *updated.StripePaymentIntentID)
	require.Equal(t, "ch_001", *updated.StripeChargeID)
	require.NotNil(t, updated.ChargeSucceededAt)
	require.Equal(t, "charged", *updated.ResolutionType)

	require.Len(t, fx.processor.requests, 1)
	req := fx.processor.requests[0]
	require.Equal(t, *rec.FinalPenaltyCents, req.AmountCents)
	require.Equal(t, "usd", req.Currency)
	require.Equal(t, "cus_123", req.CustomerRef)
	require.Equal(t, "pm_456", req.PaymentMethodRef)
	require.Equal(t, fmt.Sprintf("overstay:%s:%d", rec.ID, rec.ApprovedAt.Unix()), req.IdempotencyKey)
	require.Equal(t, "overstay_penalty", req.Metadata["type"])
	require.Equal(t, rec.ID.String(), req.Metadata["overstay_record_id"])
	require.Equal(t, "1", req.Metadata["storage_booking_id"])
	require.Equal(t, "5", req.Metadata["days_overdue"])

	// A collected record is settled for good.
	_, err = fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID: rec.ID, ManagerID: 42, Action: ActionWaive, WaiveReason: "n/a",
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestChargePenaltyDeclinedMovesToChargeFailed(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{FailureReason: "card_declined"}

	updated, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrPaymentProcessor)
	require.NotNil(t, updated)
	require.Equal(t, StatusChargeFailed, updated.Status)
	require.Equal(t, "card_declined", *updated.ChargeFailureReason)
	require.NotNil(t, updated.ChargeFailedAt)
	require.False(t, IsTerminal(updated.Status))

	// A failed charge re-enters the decision flow.
	reviews, err := fx.svc.GetPendingReviews(context.Background())
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	require.Equal(t, StatusChargeFailed, reviews[0].Record.Status)
}

func TestChargePenaltyTransportErrorRecordsFailure(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.err = errors.New("connection reset")

	updated, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrPaymentProcessor)
	require.Equal(t, StatusChargeFailed, updated.Status)
	require.Contains(t, *updated.ChargeFailureReason, "connection reset")
}

func TestChargePenaltyMissingPaymentMethod(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	b := fx.bookings.bookings[1]
	b.PaymentMethodID = nil
	fx.bookings.bookings[1] = b

	_, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrMissingPaymentMethod)
	require.Empty(t, fx.processor.requests)

	current, err := fx.repo.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPenaltyApproved, current.Status)
}

func TestChargePenaltyRejectsInFlightRetry(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)

	// Simulate a prior attempt that reached the processor but never
	// reported back.
	intent := "pi_inflight"
	fx.repo.mu.Lock()
	stored := fx.repo.records[rec.ID]
	stored.Status = StatusChargePending
	stored.StripePaymentIntentID = &intent
	fx.repo.mu.Unlock()

	_, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrChargeInFlight)
	require.Empty(t, fx.processor.requests)
}

func TestChargePenaltyResumesPendingWithoutIntent(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{Succeeded: true, PaymentIntentID: "pi_002"}

	// Crash between the charge_pending write and the processor call
	// leaves a pending record with no intent; the retry may proceed.
	fx.repo.mu.Lock()
	fx.repo.records[rec.ID].Status = StatusChargePending
	fx.repo.mu.Unlock()

	updated, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusChargeSucceeded, updated.Status)
	require.Len(t, fx.processor.requests, 1)
}

func TestChargePenaltyRejectsUnapprovedStatus(t *testing.T) {
	fx := newFixture(t)
	rec := fx.pendingRecord(t)

	_, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Empty(t, fx.processor.requests)
}

func TestChargeFailedRecordCanBeWaived(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{FailureReason: "card_declined"}

	_, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.ErrorIs(t, err, ErrPaymentProcessor)

	updated, err := fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID:    rec.ID,
		ManagerID:   42,
		Action:      ActionWaive,
		WaiveReason: "card expired, chef moved out",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPenaltyWaived, updated.Status)
}

func TestGetHistoryIsChronological(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{Succeeded: true, PaymentIntentID: "pi_003"}

	_, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.NoError(t, err)

	history, err := fx.svc.GetHistory(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 4) // detected, approved, charge_pending, charge outcome
	require.Equal(t, EventStatusChange, history[0].EventType)
	require.Equal(t, EventManagerDecision, history[1].EventType)
	require.Equal(t, EventChargeAttempt, history[3].EventType)
	for i := 1; i < len(history); i++ {
		require.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

func TestGetHistoryUnknownRecord(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.GetHistory(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetStatsAggregates(t *testing.T) {
	fx := newFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{Succeeded: true, PaymentIntentID: "pi_004"}
	_, err := fx.svc.ChargePenalty(context.Background(), rec.ID)
	require.NoError(t, err)

	// Booking 1 vacated after the charge; only booking 2 is still overdue.
	done := fx.bookings.bookings[1]
	done.Status = booking.StatusCompleted
	fx.bookings.bookings[1] = done

	fx.addBooking(2, 10)
	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	_, err = fx.svc.ProcessDecision(context.Background(), DecisionInput{
		RecordID:    results[0].RecordID,
		ManagerID:   42,
		Action:      ActionWaive,
		WaiveReason: "flooded unit",
	})
	require.NoError(t, err)

	stats, err := fx.svc.GetStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ByStatus[StatusChargeSucceeded])
	require.Equal(t, int64(1), stats.ByStatus[StatusPenaltyWaived])
	require.Equal(t, *rec.FinalPenaltyCents, stats.TotalPenaltiesCollected)
	require.Equal(t, results[0].CalculatedPenaltyCents, stats.TotalPenaltiesWaived)
}
