package overstay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storably/overstay/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for overstay records
// and their history. Every mutation writes the record and its history
// entry in one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, booking_id, status, days_overdue, daily_rate_cents, penalty_rate,
	grace_period_ends_at, calculated_penalty_cents, final_penalty_cents,
	approved_by, approved_at, waived, waive_reason, manager_notes,
	stripe_payment_intent_id, stripe_charge_id,
	charge_attempted_at, charge_succeeded_at, charge_failed_at, charge_failure_reason,
	resolved_at, resolution_type, idempotency_key, detected_at, created_at, updated_at`

const terminalStatuses = `('penalty_waived', 'charge_succeeded', 'resolved', 'escalated')`

// GetRecord retrieves a record by id.
func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM overstay_records WHERE id = $1`, recordColumns)
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("overstay: get record: %w", err)
	}
	return rec, nil
}

// FindActiveByKey returns the single non-terminal record for an
// idempotency key, or nil when none exists.
func (r *Repository) FindActiveByKey(ctx context.Context, key string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM overstay_records
		WHERE idempotency_key = $1 AND status NOT IN %s`, recordColumns, terminalStatuses)
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("overstay: find active record: %w", err)
	}
	return rec, nil
}

// CreateRecord inserts a new record plus its first history entry.
func (r *Repository) CreateRecord(ctx context.Context, rec *Record, entry HistoryEntry) (*Record, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO overstay_records (
			id, booking_id, status, days_overdue, daily_rate_cents, penalty_rate,
			grace_period_ends_at, calculated_penalty_cents, idempotency_key,
			detected_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			rec.ID, rec.BookingID, rec.Status, rec.DaysOverdue, rec.DailyRateCents,
			rec.PenaltyRate, rec.GracePeriodEndsAt, rec.CalculatedPenaltyCents,
			rec.IdempotencyKey, rec.DetectedAt, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return insertHistory(ctx, tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("overstay: create record: %w", err)
	}
	return rec, nil
}

// UpdateDetection refreshes days overdue and the calculated penalty on a
// non-terminal record, optionally moving grace_period to pending_review.
func (r *Repository) UpdateDetection(ctx context.Context, update DetectionUpdate, entry HistoryEntry) (*Record, error) {
	var updated *Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`UPDATE overstay_records
			SET days_overdue = $2, calculated_penalty_cents = $3,
				status = COALESCE($4, status), updated_at = NOW()
			WHERE id = $1 AND status NOT IN %s`, terminalStatuses)
		var status *string
		if update.TransitionTo != nil {
			s := string(*update.TransitionTo)
			status = &s
		}
		tag, err := tx.Exec(ctx, query, update.RecordID, update.DaysOverdue, update.CalculatedPenaltyCents, status)
		if err != nil {
			return fmt.Errorf("update detection: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: record %s is terminal or missing", ErrInvalidState, update.RecordID)
		}
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
		query = fmt.Sprintf(`SELECT %s FROM overstay_records WHERE id = $1`, recordColumns)
		updated, err = scanRecord(tx.QueryRow(ctx, query, update.RecordID))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("overstay: update detection: %w", err)
	}
	return updated, nil
}

// ApplyTransition writes a guarded status change, the mutated fields and
// the history entry atomically. A racing writer that already moved the
// status makes the guard fail with ErrInvalidState.
func (r *Repository) ApplyTransition(ctx context.Context, update TransitionUpdate, entry HistoryEntry) (*Record, error) {
	set, args := buildMutation(update)
	var updated *Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`UPDATE overstay_records SET %s WHERE id = $1 AND status = ANY($2)`, set)
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("apply transition: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var current string
			err := tx.QueryRow(ctx, `SELECT status FROM overstay_records WHERE id = $1`, update.RecordID).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("read current status: %w", err)
			}
			return fmt.Errorf("%w: expected %v, record is %s", ErrInvalidState, update.From, current)
		}
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
		query = fmt.Sprintf(`SELECT %s FROM overstay_records WHERE id = $1`, recordColumns)
		updated, err = scanRecord(tx.QueryRow(ctx, query, update.RecordID))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("overstay: apply transition: %w", err)
	}
	return updated, nil
}

// buildMutation renders the SET clause for a transition. $1 is the record
// id and $2 the status guard; mutated columns start at $3.
func buildMutation(update TransitionUpdate) (string, []any) {
	from := make([]string, 0, len(update.From))
	for _, s := range update.From {
		from = append(from, string(s))
	}
	args := []any{update.RecordID, from}
	set := "updated_at = NOW()"

	add := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}
	add("status", string(update.To))

	f := update.Fields
	if f.DaysOverdue != nil {
		add("days_overdue", *f.DaysOverdue)
	}
	if f.CalculatedPenaltyCents != nil {
		add("calculated_penalty_cents", *f.CalculatedPenaltyCents)
	}
	if f.FinalPenaltyCents != nil {
		add("final_penalty_cents", *f.FinalPenaltyCents)
	}
	if f.ApprovedBy != nil {
		add("approved_by", *f.ApprovedBy)
	}
	if f.ApprovedAt != nil {
		add("approved_at", *f.ApprovedAt)
	}
	if f.Waived != nil {
		add("waived", *f.Waived)
	}
	if f.WaiveReason != nil {
		add("waive_reason", *f.WaiveReason)
	}
	if f.ManagerNotes != nil {
		add("manager_notes", *f.ManagerNotes)
	}
	if f.StripePaymentIntentID != nil {
		add("stripe_payment_intent_id", *f.StripePaymentIntentID)
	}
	if f.StripeChargeID != nil {
		add("stripe_charge_id", *f.StripeChargeID)
	}
	if f.ChargeAttemptedAt != nil {
		add("charge_attempted_at", *f.ChargeAttemptedAt)
	}
	if f.ChargeSucceededAt != nil {
		add("charge_succeeded_at", *f.ChargeSucceededAt)
	}
	if f.ChargeFailedAt != nil {
		add("charge_failed_at", *f.ChargeFailedAt)
	}
	if f.ChargeFailureReason != nil {
		add("charge_failure_reason", *f.ChargeFailureReason)
	}
	if f.ResolvedAt != nil {
		add("resolved_at", *f.ResolvedAt)
	}
	if f.ResolutionType != nil {
		add("resolution_type", *f.ResolutionType)
	}
	return set, args
}

// ListHistory returns a record's audit entries oldest first.
func (r *Repository) ListHistory(ctx context.Context, recordID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, overstay_record_id, event_type, event_source, payload, created_at
		FROM overstay_history WHERE overstay_record_id = $1 ORDER BY created_at ASC, id ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("overstay: list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.RecordID, &e.EventType, &e.Source, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("overstay: scan history: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("overstay: decode history payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("overstay: list history: %w", err)
	}
	return entries, nil
}

// ListPendingReviews returns records awaiting a manager decision joined
// with booking descriptive fields.
func (r *Repository) ListPendingReviews(ctx context.Context) ([]PendingReview, error) {
	query := fmt.Sprintf(`SELECT %s,
			l.name, loc.name, u.name, u.email, b.end_date
		FROM overstay_records o
		JOIN storage_bookings b ON b.id = o.booking_id
		JOIN storage_listings l ON l.id = b.listing_id
		JOIN locations loc ON loc.id = b.location_id
		JOIN users u ON u.id = b.chef_id
		WHERE o.status IN ('pending_review', 'charge_failed')
		ORDER BY o.detected_at ASC`, prefixColumns("o", recordColumns))
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("overstay: list pending reviews: %w", err)
	}
	defer rows.Close()

	var reviews []PendingReview
	for rows.Next() {
		var p PendingReview
		dest := recordDest(&p.Record)
		dest = append(dest, &p.ListingName, &p.LocationName, &p.ChefName, &p.ChefEmail, &p.BookingEnd)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("overstay: scan pending review: %w", err)
		}
		reviews = append(reviews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("overstay: list pending reviews: %w", err)
	}
	return reviews, nil
}

// CollectStats aggregates per-status counts and penalty totals.
func (r *Repository) CollectStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int64)}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM overstay_records GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("overstay: collect stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("overstay: scan stats: %w", err)
		}
		stats.ByStatus[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("overstay: collect stats: %w", err)
	}

	err = r.pool.QueryRow(ctx, `SELECT
			COALESCE(SUM(final_penalty_cents) FILTER (WHERE status = 'charge_succeeded'), 0),
			COALESCE(SUM(calculated_penalty_cents) FILTER (WHERE status = 'penalty_waived'), 0)
		FROM overstay_records`).Scan(&stats.TotalPenaltiesCollected, &stats.TotalPenaltiesWaived)
	if err != nil {
		return Stats{}, fmt.Errorf("overstay: collect stats totals: %w", err)
	}
	stats.PendingReviewCount = stats.ByStatus[StatusPendingReview]
	stats.FailedChargeReviewCount = stats.ByStatus[StatusChargeFailed]
	return stats, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode history payload: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO overstay_history (id, overstay_record_id, event_type, event_source, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RecordID, entry.EventType, entry.Source, payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	if err := row.Scan(recordDest(&rec)...); err != nil {
		return nil, err
	}
	return &rec, nil
}

// recordDest lists scan destinations in recordColumns order. Nullable
// columns scan into the pointer fields directly.
func recordDest(rec *Record) []any {
	return []any{
		&rec.ID,
		&rec.BookingID,
		&rec.Status,
		&rec.DaysOverdue,
		&rec.DailyRateCents,
		&rec.PenaltyRate,
		&rec.GracePeriodEndsAt,
		&rec.CalculatedPenaltyCents,
		&rec.FinalPenaltyCents,
		&rec.ApprovedBy,
		&rec.ApprovedAt,
		&rec.Waived,
		&rec.WaiveReason,
		&rec.ManagerNotes,
		&rec.StripePaymentIntentID,
		&rec.StripeChargeID,
		&rec.ChargeAttemptedAt,
		&rec.ChargeSucceededAt,
		&rec.ChargeFailedAt,
		&rec.ChargeFailureReason,
		&rec.ResolvedAt,
		&rec.ResolutionType,
		&rec.IdempotencyKey,
		&rec.DetectedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	}
}

// prefixColumns qualifies each column in a comma list with a table alias.
func prefixColumns(alias, columns string) string {
	out := ""
	for i, col := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(columns string) []string {
	var cols []string
	field := ""
	for _, r := range columns {
		switch r {
		case ',':
			cols = append(cols, field)
			field = ""
		case ' ', '\n', '\t':
		default:
			field += string(r)
		}
	}
	if field != "" {
		cols = append(cols, field)
	}
	return cols
}
