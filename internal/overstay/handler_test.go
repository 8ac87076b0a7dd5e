package overstay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/storably/overstay/internal/payments"
)

type fakeSweeps struct {
	calls int
	err   error
}

func (f *fakeSweeps) TriggerSweep(context.Context) error {
	f.calls++
	return f.err
}

type handlerFixture struct {
	*serviceFixture
	router *chi.Mux
	sweeps *fakeSweeps
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	fx := &handlerFixture{
		serviceFixture: newFixture(t),
		sweeps:         &fakeSweeps{},
	}
	h := NewHandler(slog.Default(), fx.svc, fx.sweeps)
	fx.router = chi.NewRouter()
	fx.router.Route("/overstays", h.MountRoutes)
	return fx
}

func (fx *handlerFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	fx.router.ServeHTTP(res, req)
	return res
}

func managerHeader() map[string]string {
	return map[string]string{"X-Manager-ID": "42"}
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func TestHandlerProcessDecisionApprove(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.pendingRecord(t)

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/decision",
		`{"action":"approve"}`, managerHeader())
	require.Equal(t, http.StatusOK, res.Code)

	body := decodeBody(t, res)
	require.Equal(t, string(StatusPenaltyApproved), body["status"])
	require.Equal(t, float64(rec.CalculatedPenaltyCents), body["final_penalty_cents"])
	require.Equal(t, float64(42), body["approved_by"])
}

func TestHandlerProcessDecisionRequiresManagerHeader(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.pendingRecord(t)

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/decision",
		`{"action":"approve"}`, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerProcessDecisionRejectsUnknownAction(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.pendingRecord(t)

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/decision",
		`{"action":"forgive"}`, managerHeader())
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerProcessDecisionRejectsUnknownFields(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.pendingRecord(t)

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/decision",
		`{"action":"approve","amount":100}`, managerHeader())
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerProcessDecisionConflict(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.addBooking(1, 1)
	results, err := fx.svc.DetectOverstays(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusGracePeriod, results[0].Status)

	res := fx.do(t, http.MethodPost, "/overstays/"+results[0].RecordID.String()+"/decision",
		`{"action":"approve"}`, managerHeader())
	require.Equal(t, http.StatusConflict, res.Code)
}

func TestHandlerGetRecord(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.pendingRecord(t)

	res := fx.do(t, http.MethodGet, "/overstays/"+rec.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	require.Equal(t, rec.ID.String(), body["id"])
	require.Equal(t, string(StatusPendingReview), body["status"])
	// Pointer fields absent until set.
	require.NotContains(t, body, "final_penalty_cents")
}

func TestHandlerGetRecordNotFound(t *testing.T) {
	fx := newHandlerFixture(t)
	res := fx.do(t, http.MethodGet, "/overstays/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerGetRecordRejectsMalformedID(t *testing.T) {
	fx := newHandlerFixture(t)
	res := fx.do(t, http.MethodGet, "/overstays/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerGetHistory(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.pendingRecord(t)

	res := fx.do(t, http.MethodGet, "/overstays/"+rec.ID.String()+"/history", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	history, ok := body["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
}

func TestHandlerChargeDeclinedReturnsRecord(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{FailureReason: "card_declined"}

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/charge", "", nil)
	require.Equal(t, http.StatusBadGateway, res.Code)
	body := decodeBody(t, res)
	record, ok := body["record"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, string(StatusChargeFailed), record["status"])
	require.Contains(t, body["error"], "card_declined")
}

func TestHandlerChargeMissingPaymentMethod(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.approvedRecord(t)
	b := fx.bookings.bookings[1]
	b.StripeCustomerID = nil
	fx.bookings.bookings[1] = b

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/charge", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestHandlerChargeSucceeds(t *testing.T) {
	fx := newHandlerFixture(t)
	rec := fx.approvedRecord(t)
	fx.processor.result = payments.ChargeResult{Succeeded: true, PaymentIntentID: "pi_100", ChargeID: "ch_100"}

	res := fx.do(t, http.MethodPost, "/overstays/"+rec.ID.String()+"/charge", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	require.Equal(t, string(StatusChargeSucceeded), body["status"])
	require.Equal(t, "pi_100", body["stripe_payment_intent_id"])
}

func TestHandlerListPending(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.pendingRecord(t)

	res := fx.do(t, http.MethodGet, "/overstays/pending", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	pending, ok := body["pending"].([]any)
	require.True(t, ok)
	require.Len(t, pending, 1)
}

func TestHandlerStats(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.pendingRecord(t)

	res := fx.do(t, http.MethodGet, "/overstays/stats", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	byStatus, ok := body["by_status"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(1), byStatus[string(StatusPendingReview)])
}

func TestHandlerTriggerDetect(t *testing.T) {
	fx := newHandlerFixture(t)

	res := fx.do(t, http.MethodPost, "/overstays/detect", "", nil)
	require.Equal(t, http.StatusAccepted, res.Code)
	require.Equal(t, 1, fx.sweeps.calls)
}

func TestHandlerTriggerDetectFailure(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.sweeps.err = errors.New("queue unavailable")

	res := fx.do(t, http.MethodPost, "/overstays/detect", "", nil)
	require.Equal(t, http.StatusInternalServerError, res.Code)
}
