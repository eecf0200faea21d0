package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lovebloom/lovebloom/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// StripeClient is a minimal client for the Stripe Checkout API. It covers
// exactly the two calls the checkout and webhook paths need: creating a
// hosted checkout session and re-fetching a session's payment state.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// StripeCheckoutSession is the subset of the checkout session object the
// service consumes.
type StripeCheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// StripeCheckoutSessionInput carries the server-resolved session parameters.
type StripeCheckoutSessionInput struct {
	PlanName         string
	PlanDescription  string
	Amount           int64
	Currency         string
	CorrelationToken string
	SuccessURL       string
	CancelURL        string
	CustomerEmail    string
}

// StripeWebhookEvent is the provider event envelope as delivered to the
// webhook endpoint.
type StripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object StripeCheckoutSession `json:"object"`
	} `json:"data"`
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession opens a hosted checkout session for one plan
// purchase. Amount and currency come from the server-side price table.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, in StripeCheckoutSessionInput) (*StripeCheckoutSession, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	if in.Amount <= 0 || strings.TrimSpace(in.CorrelationToken) == "" {
		return nil, errors.New("amount and correlation token are required")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", in.Currency)
	form.Set("line_items[0][price_data][product_data][name]", in.PlanName)
	form.Set("line_items[0][price_data][product_data][description]", in.PlanDescription)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(in.Amount, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	form.Set("client_reference_id", in.CorrelationToken)
	form.Set("metadata[correlation_token]", in.CorrelationToken)
	if strings.TrimSpace(in.CustomerEmail) != "" {
		form.Set("customer_email", in.CustomerEmail)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe session create failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out StripeCheckoutSession
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" || strings.TrimSpace(out.URL) == "" {
		return nil, errors.New("stripe session create returned no id or url")
	}
	return &out, nil
}

// GetCheckoutSession re-fetches a session from the Stripe API. The webhook
// path uses this as the authoritative payment state instead of the
// delivered body.
func (c *StripeClient) GetCheckoutSession(ctx context.Context, sessionID string) (*StripeCheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/v1/checkout/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe session fetch failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out StripeCheckoutSession
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("stripe session fetch returned no id")
	}
	return &out, nil
}

// ParseStripeWebhookEvent decodes the raw webhook envelope.
func ParseStripeWebhookEvent(raw []byte) (*StripeWebhookEvent, error) {
	var ev StripeWebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("stripe webhook event missing type")
	}
	return &ev, nil
}

// CorrelationToken returns the local correlation token carried by the
// session, preferring the metadata entry over client_reference_id.
func (s *StripeCheckoutSession) CorrelationToken() string {
	if token := strings.TrimSpace(s.Metadata["correlation_token"]); token != "" {
		return token
	}
	return strings.TrimSpace(s.ClientReferenceID)
}
