package overstay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/storably/overstay/internal/platform/httpx"
)

// SweepTrigger enqueues an on-demand detection sweep.
type SweepTrigger interface {
	TriggerSweep(ctx context.Context) error
}

// Handler exposes the manager-facing overstay API. Authentication is
// owned by the upstream gateway, which injects the manager identity as
// X-Manager-ID.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sweeps    SweepTrigger
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sweeps SweepTrigger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		sweeps:    sweeps,
		validator: validator.New(),
	}
}

// MountRoutes registers overstay routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pending", h.listPending)
	r.Get("/stats", h.getStats)
	r.Get("/{id}", h.getRecord)
	r.Get("/{id}/history", h.getHistory)
	r.Post("/{id}/decision", h.processDecision)
	r.Post("/{id}/charge", h.chargePenalty)
	r.Post("/detect", h.triggerDetect)
}

type decisionRequest struct {
	Action            string `json:"action" validate:"required,oneof=approve adjust waive"`
	FinalPenaltyCents *int64 `json:"final_penalty_cents" validate:"omitempty,gte=0"`
	WaiveReason       string `json:"waive_reason"`
	ManagerNotes      string `json:"manager_notes"`
}

func (h *Handler) processDecision(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	managerID, ok := h.managerID(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	rec, err := h.service.ProcessDecision(r.Context(), DecisionInput{
		RecordID:          recordID,
		ManagerID:         managerID,
		Action:            DecisionAction(req.Action),
		FinalPenaltyCents: req.FinalPenaltyCents,
		WaiveReason:       req.WaiveReason,
		ManagerNotes:      req.ManagerNotes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordView(rec))
}

func (h *Handler) chargePenalty(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.ChargePenalty(r.Context(), recordID)
	if err != nil {
		// A declined charge still carries the updated record; surface both.
		if errors.Is(err, ErrPaymentProcessor) && rec != nil {
			httpx.JSON(w, http.StatusBadGateway, map[string]any{
				"record": recordView(rec),
				"error":  err.Error(),
			})
			return
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordView(rec))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.service.GetPendingReviews(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(reviews))
	for _, review := range reviews {
		views = append(views, map[string]any{
			"record":        recordView(&review.Record),
			"listing_name":  review.ListingName,
			"location_name": review.LocationName,
			"chef_name":     review.ChefName,
			"chef_email":    review.ChefEmail,
			"booking_end":   review.BookingEnd,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pending": views})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), recordID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recordView(rec))
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetHistory(r.Context(), recordID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		views = append(views, map[string]any{
			"id":         e.ID,
			"event_type": e.EventType,
			"source":     e.Source,
			"payload":    e.Payload,
			"created_at": e.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": views})
}

func (h *Handler) triggerDetect(w http.ResponseWriter, r *http.Request) {
	if h.sweeps == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "sweep trigger not configured")
		return
	}
	if err := h.sweeps.TriggerSweep(r.Context()); err != nil {
		h.logger.Error("trigger detection sweep", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "record id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) managerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-Manager-ID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Missing Manager", "X-Manager-ID header required")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrChargeInFlight):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrMissingPaymentMethod):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Payment Method", err.Error())
	case errors.Is(err, ErrPaymentProcessor):
		httpx.Problem(w, http.StatusBadGateway, "Payment Failed", err.Error())
	default:
		h.logger.Error("overstay request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// recordView shapes a record for JSON responses.
func recordView(rec *Record) map[string]any {
	view := map[string]any{
		"id":                       rec.ID,
		"booking_id":               rec.BookingID,
		"status":                   rec.Status,
		"days_overdue":             rec.DaysOverdue,
		"daily_rate_cents":         rec.DailyRateCents,
		"penalty_rate":             rec.PenaltyRate,
		"grace_period_ends_at":     rec.GracePeriodEndsAt,
		"calculated_penalty_cents": rec.CalculatedPenaltyCents,
		"waived":                   rec.Waived,
		"idempotency_key":          rec.IdempotencyKey,
		"detected_at":              rec.DetectedAt,
		"updated_at":               rec.UpdatedAt,
	}
	addOptional(view, "final_penalty_cents", rec.FinalPenaltyCents)
	addOptional(view, "approved_by", rec.ApprovedBy)
	addOptional(view, "approved_at", rec.ApprovedAt)
	addOptional(view, "waive_reason", rec.WaiveReason)
	addOptional(view, "manager_notes", rec.ManagerNotes)
	addOptional(view, "stripe_payment_intent_id", rec.StripePaymentIntentID)
	addOptional(view, "stripe_charge_id", rec.StripeChargeID)
	addOptional(view, "charge_attempted_at", rec.ChargeAttemptedAt)
	addOptional(view, "charge_succeeded_at", rec.ChargeSucceededAt)
	addOptional(view, "charge_failed_at", rec.ChargeFailedAt)
	addOptional(view, "charge_failure_reason", rec.ChargeFailureReason)
	addOptional(view, "resolved_at", rec.ResolvedAt)
	addOptional(view, "resolution_type", rec.ResolutionType)
	return view
}

func addOptional[T any](view map[string]any, key string, value *T) {
	if value != nil {
		view[key] = *value
	}
}
