// Package payments holds agreed delivery prices in escrow with Stripe
// PaymentIntents: hold on accept, capture on completion, cancel on release.
package payments

import (
	"context"
	"fmt"
	"math"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeEscrow uses a single configured currency for every hold.
type StripeEscrow struct {
	currency string
}

// NewStripeEscrow sets the process-wide Stripe key.
func NewStripeEscrow(apiKey, currency string) *StripeEscrow {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeEscrow{currency: strings.ToLower(currency)}
}

// Hold creates a PaymentIntent with capture_method=manual for amount minor
// units and returns its id. ref is the match id; it keys retries.
func (s *StripeEscrow) Hold(ctx context.Context, amount int64, ref string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata("match_id", ref)
	params.SetIdempotencyKey("hold-" + ref)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("payments.StripeEscrow.Hold: %w", err)
	}
	return pi.ID, nil
}

// Capture finalizes a previously held PaymentIntent.
func (s *StripeEscrow) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if _, err := paymentintent.Capture(paymentIntentID, params); err != nil {
		return fmt.Errorf("payments.StripeEscrow.Capture: %w", err)
	}
	return nil
}

// Release cancels the hold on a PaymentIntent.
func (s *StripeEscrow) Release(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(paymentIntentID, params); err != nil {
		return fmt.Errorf("payments.StripeEscrow.Release: %w", err)
	}
	return nil
}

// MinorUnits converts a price in major units to the integer amount Stripe
// expects for two-decimal currencies.
func MinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}
