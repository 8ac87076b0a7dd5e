// Package payments wraps the external payment processor behind a small
// port so the charge path can be exercised without network access.
package payments

import "context"

// ChargeRequest describes one off-session penalty charge.
type ChargeRequest struct {
	AmountCents      int64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Metadata         map[string]string
}

// ChargeResult is the modeled outcome of a charge attempt. A declined or
// failed charge is a normal result, not an error; Err is reserved for the
// transport itself.
type ChargeResult struct {
	Succeeded       bool
	PaymentIntentID string
	ChargeID        string
	FailureReason   string
}

// Processor creates charges against a stored payment method.
type Processor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
