package overstay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storably/overstay/internal/booking"
)

// DetectOverstays sweeps confirmed, paid bookings past their end date and
// creates or refreshes one non-terminal overstay record per episode. A
// failure on one booking is logged and isolated; the sweep continues and
// returns partial results. The caller serializes sweeps; overlapping runs
// are prevented at the scheduler boundary.
func (s *Service) DetectOverstays(ctx context.Context) ([]DetectionResult, error) {
	today := midnight(s.clock())
	bookings, err := s.bookings.ListOverdue(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("overstay: list overdue bookings: %w", err)
	}

	results := make([]DetectionResult, 0, len(bookings))
	for _, b := range bookings {
		result, err := s.detectOne(ctx, b, today)
		if err != nil {
			s.logger.Error("overstay detection failed for booking",
				slog.Int64("booking_id", b.ID),
				slog.Any("error", err),
			)
			continue
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, nil
}

func (s *Service) detectOne(ctx context.Context, b booking.Booking, today time.Time) (*DetectionResult, error) {
	endDate := midnight(b.EndDate)
	daysOverdue := int(today.Sub(endDate).Hours() / 24)
	if daysOverdue <= 0 {
		return nil, nil
	}

	cfg := s.resolver.Resolve(ctx, b)
	dailyRate := b.DailyRateCents()
	penalty := Calculate(daysOverdue, cfg, dailyRate)

	gracePeriodEndsAt := endDate.AddDate(0, 0, cfg.GracePeriodDays)
	inGracePeriod := today.Before(gracePeriodEndsAt)

	key := IdempotencyKey(b.ID, endDate)
	existing, err := s.repo.FindActiveByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find active record: %w", err)
	}
	if existing == nil {
		return s.createRecord(ctx, b, createParams{
			daysOverdue:       daysOverdue,
			dailyRateCents:    dailyRate,
			config:            cfg,
			penalty:           penalty,
			gracePeriodEndsAt: gracePeriodEndsAt,
			inGracePeriod:     inGracePeriod,
			key:               key,
		})
	}
	return s.refreshRecord(ctx, existing, daysOverdue, penalty, inGracePeriod)
}

type createParams struct {
	daysOverdue       int
	dailyRateCents    int64
	config            PenaltyConfig
	penalty           Penalty
	gracePeriodEndsAt time.Time
	inGracePeriod     bool
	key               string
}

func (s *Service) createRecord(ctx context.Context, b booking.Booking, p createParams) (*DetectionResult, error) {
	status := StatusPendingReview
	if p.inGracePeriod {
		status = StatusGracePeriod
	}
	now := s.clock()
	rec := &Record{
		ID:                     uuid.New(),
		BookingID:              b.ID,
		Status:                 status,
		DaysOverdue:            p.daysOverdue,
		DailyRateCents:         p.dailyRateCents,
		PenaltyRate:            p.config.PenaltyRate,
		GracePeriodEndsAt:      p.gracePeriodEndsAt,
		CalculatedPenaltyCents: p.penalty.TotalCents,
		IdempotencyKey:         p.key,
		DetectedAt:             now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	entry := HistoryEntry{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		EventType: EventStatusChange,
		Source:    SourceCron,
		Payload: map[string]any{
			"from":                     "",
			"to":                       string(status),
			"days_overdue":             p.daysOverdue,
			"calculated_penalty_cents": p.penalty.TotalCents,
		},
		CreatedAt: now,
	}
	created, err := s.repo.CreateRecord(ctx, rec, entry)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return &DetectionResult{
		BookingID:              b.ID,
		RecordID:               created.ID,
		DaysOverdue:            p.daysOverdue,
		InGracePeriod:          p.inGracePeriod,
		CalculatedPenaltyCents: p.penalty.TotalCents,
		Status:                 created.Status,
		Created:                true,
	}, nil
}

func (s *Service) refreshRecord(ctx context.Context, rec *Record, daysOverdue int, penalty Penalty, inGracePeriod bool) (*DetectionResult, error) {
	update := DetectionUpdate{
		RecordID:               rec.ID,
		DaysOverdue:            daysOverdue,
		CalculatedPenaltyCents: penalty.TotalCents,
	}
	payload := map[string]any{
		"days_overdue":             daysOverdue,
		"calculated_penalty_cents": penalty.TotalCents,
	}
	if rec.Status == StatusGracePeriod && !inGracePeriod {
		next := StatusPendingReview
		update.TransitionTo = &next
		payload["from"] = string(StatusGracePeriod)
		payload["to"] = string(next)
	}
	entry := HistoryEntry{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		EventType: EventStatusChange,
		Source:    SourceCron,
		Payload:   payload,
		CreatedAt: s.clock(),
	}
	updated, err := s.repo.UpdateDetection(ctx, update, entry)
	if err != nil {
		return nil, fmt.Errorf("refresh record: %w", err)
	}
	return &DetectionResult{
		BookingID:              rec.BookingID,
		RecordID:               rec.ID,
		DaysOverdue:            daysOverdue,
		InGracePeriod:          inGracePeriod,
		CalculatedPenaltyCents: penalty.TotalCents,
		Status:                 updated.Status,
	}, nil
}

// midnight normalizes t to 00:00 UTC of its calendar day.
func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
