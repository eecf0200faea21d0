package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifyStripeWebhookSignature checks the Stripe-Signature header:
// HMAC-SHA256 over "<timestamp>.<payload>" keyed with the endpoint
// secret. Any v1 entry matching is accepted.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	timestamp := ""
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	signedPayload := append([]byte(timestamp+"."), payload...)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedPayload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(candidate)))
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	return false
}

// VerifyMercadoPagoWebhookSignature checks the x-signature header against
// the documented manifest "id:<data.id>;request-id:<x-request-id>;ts:<ts>;"
// with HMAC-SHA256. The data id is lowercased per the Mercado Pago docs.
func VerifyMercadoPagoWebhookSignature(signatureHeader, requestID, dataID, webhookSecret string) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	ts := ""
	v1 := ""
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(v1)))
	if err != nil {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(strings.TrimSpace(dataID)), strings.TrimSpace(requestID), ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hmac.Equal(mac.Sum(nil), decoded)
}
