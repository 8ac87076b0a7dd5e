package overstay

import (
	"context"

	"github.com/google/uuid"
)

// GetRecord returns one record by id.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// GetHistory returns the append-only audit trail of a record in
// chronological order.
func (s *Service) GetHistory(ctx context.Context, recordID uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.repo.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, recordID)
}

// GetPendingReviews returns records awaiting a manager decision
// (pending_review or charge_failed) joined with booking descriptive
// fields for triage.
func (s *Service) GetPendingReviews(ctx context.Context) ([]PendingReview, error) {
	return s.repo.ListPendingReviews(ctx)
}

// GetStats aggregates per-status counts and penalty totals. Concurrent
// dashboard calls share one underlying query.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	v, err, _ := s.statsSF.Do("stats", func() (any, error) {
		return s.repo.CollectStats(ctx)
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}
