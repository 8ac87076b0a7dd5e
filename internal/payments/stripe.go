package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeProcessor charges penalties through Stripe PaymentIntents.
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor constructs a processor with the given secret key.
func NewStripeProcessor(apiKey string) *StripeProcessor {
	return &StripeProcessor{api: client.New(apiKey, nil)}
}

// CreateCharge confirms an off-session PaymentIntent against the stored
// payment method. A card decline is returned as a failed ChargeResult;
// only transport-level problems surface as errors.
func (p *StripeProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if p == nil || p.api == nil {
		return ChargeResult{}, errors.New("payments: stripe processor not configured")
	}
	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			reason := stripeErr.Msg
			if reason == "" {
				reason = string(stripeErr.Code)
			}
			result := ChargeResult{FailureReason: reason}
			if stripeErr.PaymentIntent != nil {
				result.PaymentIntentID = stripeErr.PaymentIntent.ID
			}
			return result, nil
		}
		return ChargeResult{}, fmt.Errorf("payments: create payment intent: %w", err)
	}

	result := ChargeResult{PaymentIntentID: pi.ID}
	if pi.LatestCharge != nil {
		result.ChargeID = pi.LatestCharge.ID
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Succeeded = true
	default:
		result.FailureReason = fmt.Sprintf("payment intent in status %s", pi.Status)
	}
	return result, nil
}
