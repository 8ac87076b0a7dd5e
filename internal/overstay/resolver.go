package overstay

import (
	"context"
	"log/slog"

	"github.com/storably/overstay/internal/booking"
)

// SettingsPort reads penalty configuration overrides owned by the
// settings domain.
type SettingsPort interface {
	ListingOverride(ctx context.Context, listingID int64) (*booking.PenaltyOverride, error)
	LocationOverride(ctx context.Context, locationID int64) (*booking.PenaltyOverride, error)
	PlatformDefault(ctx context.Context) (*booking.PenaltyOverride, error)
}

// Resolver computes the effective penalty configuration for a booking by
// null-coalescing listing, location and platform overrides over the
// hardcoded fallback. It never fails outward: an unreachable settings
// store degrades to the remaining levels rather than aborting detection.
type Resolver struct {
	settings SettingsPort
	logger   *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(settings SettingsPort, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{settings: settings, logger: logger}
}

// Resolve returns the effective configuration for the booking.
func (r *Resolver) Resolve(ctx context.Context, b booking.Booking) PenaltyConfig {
	cfg := DefaultPenaltyConfig
	if r == nil || r.settings == nil {
		return cfg
	}

	// Lowest precedence first so higher levels overwrite.
	levels := []struct {
		name string
		load func() (*booking.PenaltyOverride, error)
	}{
		{"platform", func() (*booking.PenaltyOverride, error) { return r.settings.PlatformDefault(ctx) }},
		{"location", func() (*booking.PenaltyOverride, error) { return r.settings.LocationOverride(ctx, b.LocationID) }},
		{"listing", func() (*booking.PenaltyOverride, error) { return r.settings.ListingOverride(ctx, b.ListingID) }},
	}
	for _, level := range levels {
		override, err := level.load()
		if err != nil {
			r.logger.Warn("penalty settings lookup failed, using fallback",
				slog.String("level", level.name),
				slog.Int64("booking_id", b.ID),
				slog.Any("error", err),
			)
			continue
		}
		if override == nil {
			continue
		}
		if override.GracePeriodDays != nil {
			cfg.GracePeriodDays = *override.GracePeriodDays
		}
		if override.PenaltyRate != nil {
			cfg.PenaltyRate = *override.PenaltyRate
		}
		if override.MaxPenaltyDays != nil {
			cfg.MaxPenaltyDays = *override.MaxPenaltyDays
		}
	}
	return cfg
}
