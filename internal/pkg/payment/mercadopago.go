package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lovebloom/lovebloom/internal/pkg/env"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoClient is a minimal client for the Mercado Pago Checkout Pro
// API: preference creation for checkout and payment lookup for webhooks.
type MercadoPagoClient struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

// MercadoPagoPreferenceInput carries the server-resolved checkout
// parameters for one plan purchase.
type MercadoPagoPreferenceInput struct {
	Title            string
	Amount           int64
	CorrelationToken string
	PayerEmail       string
	PayerName        string
	NotificationURL  string
	SuccessURL       string
	FailureURL       string
	PendingURL       string
}

// MercadoPagoPreference is the created checkout preference.
type MercadoPagoPreference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// MercadoPagoPayment is the subset of the payment object consumed by the
// webhook path.
type MercadoPagoPayment struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	PaymentMethodID   string `json:"payment_method_id"`
}

// MercadoPagoNotification is the webhook notification envelope. It only
// identifies a payment; the actual state is fetched from the API.
type MercadoPagoNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

func NewMercadoPagoClientFromEnv() *MercadoPagoClient {
	return &MercadoPagoClient{
		AccessToken: strings.TrimSpace(env.GetEnv("MERCADO_PAGO_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MERCADO_PAGO_API_BASE_URL", defaultMercadoPagoAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreatePreference opens a Checkout Pro preference. Mercado Pago wants the
// unit price in currency units, so the centavo amount is converted here.
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, in MercadoPagoPreferenceInput) (*MercadoPagoPreference, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MERCADO_PAGO_ACCESS_TOKEN is not configured")
	}
	if in.Amount <= 0 || strings.TrimSpace(in.CorrelationToken) == "" {
		return nil, errors.New("amount and correlation token are required")
	}

	payload := map[string]interface{}{
		"items": []map[string]interface{}{
			{
				"title":       in.Title,
				"quantity":    1,
				"unit_price":  float64(in.Amount) / 100,
				"currency_id": "BRL",
			},
		},
		"payer": map[string]interface{}{
			"email": in.PayerEmail,
			"name":  in.PayerName,
		},
		"external_reference": in.CorrelationToken,
		"notification_url":   in.NotificationURL,
		"back_urls": map[string]interface{}{
			"success": in.SuccessURL,
			"failure": in.FailureURL,
			"pending": in.PendingURL,
		},
		"auto_return": "approved",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mercado pago preference create failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out MercadoPagoPreference
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" || strings.TrimSpace(out.InitPoint) == "" {
		return nil, errors.New("mercado pago preference create returned no id or init_point")
	}
	return &out, nil
}

// GetPayment fetches the authoritative payment state for a notification.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*MercadoPagoPayment, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MERCADO_PAGO_ACCESS_TOKEN is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mercado pago payment fetch failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out MercadoPagoPayment
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, errors.New("mercado pago payment fetch returned no id")
	}
	return &out, nil
}

// ParseMercadoPagoNotification decodes the raw notification envelope.
func ParseMercadoPagoNotification(raw []byte) (*MercadoPagoNotification, error) {
	var n MercadoPagoNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	if strings.TrimSpace(n.Type) == "" {
		return nil, errors.New("mercado pago notification missing type")
	}
	return &n, nil
}
