package payment

import "errors"

// Error taxonomy for the checkout and webhook paths. Callers wrap these
// with fmt.Errorf("%w: ...") and map them to HTTP statuses at the edge.
var (
	// ErrValidation marks user-correctable bad input.
	ErrValidation = errors.New("validation failed")
	// ErrPaymentProvider marks an upstream provider API failure.
	ErrPaymentProvider = errors.New("payment provider request failed")
	// ErrNotFound marks an unknown correlation token. Webhook callers
	// answer 404 so the provider retries after replication lag.
	ErrNotFound = errors.New("payment not found")
)

// NormalizedPaymentEvent is the provider-agnostic shape handed to the
// reconciliation job. Both webhook controllers produce it after verifying
// the notification and re-fetching the authoritative payment state from
// the provider API; the webhook body itself is never trusted for state
// transitions.
type NormalizedPaymentEvent struct {
	Provider          string
	CorrelationToken  string
	ProviderPaymentID string
	ProviderStatus    string
	PaymentMethod     string
}
