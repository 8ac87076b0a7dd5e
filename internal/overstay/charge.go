package overstay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/storably/overstay/internal/booking"
	"github.com/storably/overstay/internal/payments"
)

const penaltyCurrency = "usd"

// ChargePenalty collects an approved penalty via the payment processor
// and records the outcome on the record. A declined charge moves the
// record to charge_failed for manager follow-up; it is never raised to
// unrelated callers.
func (s *Service) ChargePenalty(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusPenaltyApproved:
	case StatusChargePending:
		// A retried call for an attempt already handed to the processor
		// must not create a second charge.
		if rec.StripePaymentIntentID != nil && *rec.StripePaymentIntentID != "" {
			return nil, ErrChargeInFlight
		}
	default:
		return nil, fmt.Errorf("%w: charge not allowed in status %s", ErrInvalidState, rec.Status)
	}
	if rec.FinalPenaltyCents == nil || *rec.FinalPenaltyCents <= 0 {
		return nil, validationErr("no positive final penalty to charge")
	}

	b, err := s.bookings.GetBooking(ctx, rec.BookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return nil, fmt.Errorf("%w: booking %d", ErrNotFound, rec.BookingID)
		}
		return nil, fmt.Errorf("overstay: load booking %d: %w", rec.BookingID, err)
	}
	if !b.HasPaymentMethod() {
		return nil, ErrMissingPaymentMethod
	}

	amount := *rec.FinalPenaltyCents
	now := s.clock()
	if rec.Status == StatusPenaltyApproved {
		rec, err = s.transition(ctx, rec, StatusChargePending, SourceSystem, RecordMutation{
			ChargeAttemptedAt: &now,
		}, map[string]any{"amount_cents": amount})
		if err != nil {
			return nil, err
		}
	}

	result, err := s.processor.CreateCharge(ctx, payments.ChargeRequest{
		AmountCents:      amount,
		Currency:         penaltyCurrency,
		CustomerRef:      *b.StripeCustomerID,
		PaymentMethodRef: *b.PaymentMethodID,
		IdempotencyKey:   chargeIdempotencyKey(rec),
		Metadata: map[string]string{
			"type":               "overstay_penalty",
			"overstay_record_id": rec.ID.String(),
			"storage_booking_id": fmt.Sprintf("%d", rec.BookingID),
			"days_overdue":       fmt.Sprintf("%d", rec.DaysOverdue),
		},
	})
	if err != nil {
		// The processor was unreachable; treat like a failed attempt so a
		// manager can re-decide. No automatic rollback of in-flight
		// charges.
		s.logger.Error("charge attempt errored",
			slog.String("record_id", rec.ID.String()),
			slog.Any("error", err),
		)
		result = payments.ChargeResult{FailureReason: err.Error()}
	}

	if result.Succeeded {
		return s.recordChargeSuccess(ctx, rec, amount, result)
	}
	return s.recordChargeFailure(ctx, rec, amount, result)
}

func (s *Service) recordChargeSuccess(ctx context.Context, rec *Record, amount int64, result payments.ChargeResult) (*Record, error) {
	now := s.clock()
	resolution := "charged"
	fields := RecordMutation{
		ChargeSucceededAt: &now,
		ResolvedAt:        &now,
		ResolutionType:    &resolution,
	}
	if result.PaymentIntentID != "" {
		fields.StripePaymentIntentID = &result.PaymentIntentID
	}
	if result.ChargeID != "" {
		fields.StripeChargeID = &result.ChargeID
	}
	payload := map[string]any{
		"outcome":           "succeeded",
		"amount_cents":      amount,
		"payment_intent_id": result.PaymentIntentID,
	}
	updated, err := s.appendChargeOutcome(ctx, rec, StatusChargeSucceeded, fields, payload)
	if err != nil {
		return nil, err
	}
	if s.collected != nil {
		s.collected(amount)
	}
	return updated, nil
}

func (s *Service) recordChargeFailure(ctx context.Context, rec *Record, amount int64, result payments.ChargeResult) (*Record, error) {
	now := s.clock()
	reason := result.FailureReason
	if reason == "" {
		reason = "charge declined"
	}
	fields := RecordMutation{
		ChargeFailedAt:      &now,
		ChargeFailureReason: &reason,
	}
	if result.PaymentIntentID != "" {
		fields.StripePaymentIntentID = &result.PaymentIntentID
	}
	payload := map[string]any{
		"outcome":      "failed",
		"amount_cents": amount,
		"reason":       reason,
	}
	updated, err := s.appendChargeOutcome(ctx, rec, StatusChargeFailed, fields, payload)
	if err != nil {
		return nil, err
	}
	return updated, fmt.Errorf("%w: %s", ErrPaymentProcessor, reason)
}

func (s *Service) appendChargeOutcome(ctx context.Context, rec *Record, to Status, fields RecordMutation, payload map[string]any) (*Record, error) {
	entry := HistoryEntry{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		EventType: EventChargeAttempt,
		Source:    SourceSystem,
		Payload:   payload,
		CreatedAt: s.clock(),
	}
	return s.repo.ApplyTransition(ctx, TransitionUpdate{
		RecordID: rec.ID,
		From:     []Status{StatusChargePending},
		To:       to,
		Fields:   fields,
	}, entry)
}

// chargeIdempotencyKey scopes processor-side retries to the current
// approval, so retrying a timed-out attempt cannot double-charge.
func chargeIdempotencyKey(rec *Record) string {
	approvedAt := int64(0)
	if rec.ApprovedAt != nil {
		approvedAt = rec.ApprovedAt.Unix()
	}
	return fmt.Sprintf("overstay:%s:%d", rec.ID, approvedAt)
}
