package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides read-only PostgreSQL access to bookings and to the
// penalty settings owned by the settings domain.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound indicates booking not found.
var ErrNotFound = errors.New("booking: not found")

const bookingColumns = `id, listing_id, location_id, chef_id, status, payment_status,
	start_date, end_date, total_price_cents, pricing_model,
	stripe_customer_id, payment_method_id`

// GetBooking returns one booking by id.
func (r *Repository) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM storage_bookings WHERE id = $1`, bookingColumns)
	b, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("booking: get booking: %w", err)
	}
	return b, nil
}

// ListOverdue returns confirmed, paid bookings whose end date (normalized
// to midnight) is strictly before the given day. Cancelled and pending
// bookings are excluded unconditionally.
func (r *Repository) ListOverdue(ctx context.Context, today time.Time) ([]Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM storage_bookings
		WHERE status = 'confirmed' AND payment_status = 'paid'
		AND date_trunc('day', end_date) < $1
		ORDER BY end_date ASC`, bookingColumns)
	rows, err := r.pool.Query(ctx, query, today)
	if err != nil {
		return nil, fmt.Errorf("booking: list overdue: %w", err)
	}
	defer rows.Close()

	var bookings []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("booking: scan overdue: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: list overdue: %w", err)
	}
	return bookings, nil
}

// ListingOverride returns the listing-level penalty override, if any.
func (r *Repository) ListingOverride(ctx context.Context, listingID int64) (*PenaltyOverride, error) {
	return r.override(ctx, `SELECT grace_period_days, penalty_rate, max_penalty_days
		FROM penalty_settings WHERE scope = 'listing' AND scope_id = $1`, listingID)
}

// LocationOverride returns the location-level penalty override, if any.
func (r *Repository) LocationOverride(ctx context.Context, locationID int64) (*PenaltyOverride, error) {
	return r.override(ctx, `SELECT grace_period_days, penalty_rate, max_penalty_days
		FROM penalty_settings WHERE scope = 'location' AND scope_id = $1`, locationID)
}

// PlatformDefault returns the platform-level penalty settings, if any.
func (r *Repository) PlatformDefault(ctx context.Context) (*PenaltyOverride, error) {
	return r.override(ctx, `SELECT grace_period_days, penalty_rate, max_penalty_days
		FROM penalty_settings WHERE scope = 'platform' AND scope_id = 0`)
}

func (r *Repository) override(ctx context.Context, query string, args ...any) (*PenaltyOverride, error) {
	var grace, maxDays pgtype.Int4
	var rate pgtype.Float8
	err := r.pool.QueryRow(ctx, query, args...).Scan(&grace, &rate, &maxDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("booking: penalty override: %w", err)
	}
	var o PenaltyOverride
	if grace.Valid {
		v := int(grace.Int32)
		o.GracePeriodDays = &v
	}
	if rate.Valid {
		v := rate.Float64
		o.PenaltyRate = &v
	}
	if maxDays.Valid {
		v := int(maxDays.Int32)
		o.MaxPenaltyDays = &v
	}
	return &o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var customer, method pgtype.Text
	err := row.Scan(
		&b.ID,
		&b.ListingID,
		&b.LocationID,
		&b.ChefID,
		&b.Status,
		&b.PaymentStatus,
		&b.StartDate,
		&b.EndDate,
		&b.TotalPriceCents,
		&b.PricingModel,
		&customer,
		&method,
	)
	if err != nil {
		return nil, err
	}
	if customer.Valid {
		b.StripeCustomerID = &customer.String
	}
	if method.Valid {
		b.PaymentMethodID = &method.String
	}
	return &b, nil
}
