package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lovebloom/lovebloom/app/models"
	"github.com/lovebloom/lovebloom/app/repository"
	"github.com/lovebloom/lovebloom/internal/pkg/payment"
	"github.com/lovebloom/lovebloom/internal/pkg/reconcile"
)

const (
	testStripeWebhookSecret      = "whsec_test_1234567890"
	testMercadoPagoWebhookSecret = "mp_secret_1234567890"
	testCorrelationToken         = "couple_1710000000000_feedc0ffee"
)

type fakeCoupleRepo struct {
	couples map[uint]*models.Couple
	photos  map[uint][]models.CouplePhoto
	nextID  uint
}

func newFakeCoupleRepo() *fakeCoupleRepo {
	return &fakeCoupleRepo{
		couples: map[uint]*models.Couple{},
		photos:  map[uint][]models.CouplePhoto{},
		nextID:  1,
	}
}

func (r *fakeCoupleRepo) Create(c *models.Couple) error {
	c.ID = r.nextID
	r.nextID++
	copied := *c
	r.couples[c.ID] = &copied
	return nil
}

func (r *fakeCoupleRepo) GetByID(id uint) (*models.Couple, error) {
	c, ok := r.couples[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *fakeCoupleRepo) GetBySlug(slug string) (*models.Couple, error) {
	for _, c := range r.couples {
		if c.URLSlug == slug {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCoupleRepo) GetBySlugWithPhotos(slug string) (*models.Couple, error) {
	c, err := r.GetBySlug(slug)
	if err != nil {
		return nil, err
	}
	c.Photos = r.photos[c.ID]
	return c, nil
}

func (r *fakeCoupleRepo) SlugExists(slug string) (bool, error) {
	_, err := r.GetBySlug(slug)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (r *fakeCoupleRepo) AddPhoto(photo *models.CouplePhoto) error {
	r.photos[photo.CoupleID] = append(r.photos[photo.CoupleID], *photo)
	return nil
}

func (r *fakeCoupleRepo) GetPhotos(coupleID uint) ([]models.CouplePhoto, error) {
	return r.photos[coupleID], nil
}

func (r *fakeCoupleRepo) Delete(id uint) error {
	delete(r.couples, id)
	delete(r.photos, id)
	return nil
}

func (r *fakeCoupleRepo) Count() (int64, error) {
	return int64(len(r.couples)), nil
}

type fakePaymentRepo struct {
	payments map[uint]*models.Payment
}

func (r *fakePaymentRepo) Create(p *models.Payment) error { return nil }

func (r *fakePaymentRepo) GetByID(id uint) (*models.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *fakePaymentRepo) GetByCorrelationToken(token string) (*models.Payment, error) {
	for _, p := range r.payments {
		if p.CorrelationToken == token {
			copied := *p
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakePaymentRepo) GetByProviderSessionID(sessionID string) (*models.Payment, error) {
	for _, p := range r.payments {
		if p.ProviderSessionID == sessionID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakePaymentRepo) Update(p *models.Payment) error {
	copied := *p
	r.payments[p.ID] = &copied
	return nil
}

func (r *fakePaymentRepo) UpdateStatus(id uint, status, providerPaymentID, providerStatus, paymentMethod string) error {
	p, ok := r.payments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Status = status
	if providerPaymentID != "" {
		p.ProviderPaymentID = providerPaymentID
	}
	if providerStatus != "" {
		p.ProviderStatus = providerStatus
	}
	if paymentMethod != "" {
		p.PaymentMethod = paymentMethod
	}
	return nil
}

func (r *fakePaymentRepo) SetCoupleIfUnset(id uint, coupleID uint, providerPaymentID, providerStatus, paymentMethod string) (bool, error) {
	p, ok := r.payments[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if p.CoupleID != nil {
		return false, nil
	}
	p.CoupleID = &coupleID
	p.Status = models.PaymentStatusSucceeded
	p.ProviderPaymentID = providerPaymentID
	p.ProviderStatus = providerStatus
	p.PaymentMethod = paymentMethod
	return true, nil
}

func (r *fakePaymentRepo) ClearDraft(id uint) error {
	p, ok := r.payments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Draft = nil
	return nil
}

type fakePartnerRepo struct {
	partners map[uint]*models.Partner
}

func (r *fakePartnerRepo) Create(p *models.Partner) error { return nil }

func (r *fakePartnerRepo) GetByID(id uint) (*models.Partner, error) {
	p, ok := r.partners[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (r *fakePartnerRepo) GetActiveByReferralCode(code string) (*models.Partner, error) {
	for _, p := range r.partners {
		if p.ReferralCode == code && p.IsActive() {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakePartnerRepo) Update(p *models.Partner) error { return nil }

type fakeCommissionRepo struct {
	commissions map[uint]*models.Commission
}

func (r *fakeCommissionRepo) CreateIfNotExists(c *models.Commission) (bool, error) {
	if _, ok := r.commissions[c.PaymentID]; ok {
		return false, nil
	}
	copied := *c
	r.commissions[c.PaymentID] = &copied
	return true, nil
}

func (r *fakeCommissionRepo) GetByPaymentID(paymentID uint) (*models.Commission, error) {
	c, ok := r.commissions[paymentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *fakeCommissionRepo) ListByPartnerID(partnerID uint) ([]models.Commission, error) {
	var out []models.Commission
	for _, c := range r.commissions {
		if c.PartnerID == partnerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

// fakeWebhookEventRepo mirrors the unique (provider, provider_event_id)
// index: redeliveries get the stored row back, including its processing
// state from earlier attempts.
type fakeWebhookEventRepo struct {
	byKey  map[string]*models.WebhookEvent
	byID   map[uint]*models.WebhookEvent
	nextID uint
}

func newFakeWebhookEventRepo() *fakeWebhookEventRepo {
	return &fakeWebhookEventRepo{
		byKey:  map[string]*models.WebhookEvent{},
		byID:   map[uint]*models.WebhookEvent{},
		nextID: 1,
	}
}

func (r *fakeWebhookEventRepo) CreateIfNotExists(ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := ev.Provider + "|" + ev.ProviderEventID
	if stored, ok := r.byKey[key]; ok {
		return false, stored, nil
	}
	copied := *ev
	copied.ID = r.nextID
	r.nextID++
	r.byKey[key] = &copied
	r.byID[copied.ID] = &copied
	return true, &copied, nil
}

func (r *fakeWebhookEventRepo) MarkProcessed(id uint, processingError string) error {
	ev, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	ev.ProcessedAt = &now
	ev.ProcessingError = processingError
	return nil
}

type fakePhotoStore struct{}

func (fakePhotoStore) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	return "https://cdn.lovebloom.test/" + objectKey, nil
}

type webhookTestEnv struct {
	app         *fiber.App
	couples     *fakeCoupleRepo
	payments    *fakePaymentRepo
	events      *fakeWebhookEventRepo
	commissions *fakeCommissionRepo

	stripeSession payment.StripeCheckoutSession
	stripeFail    bool
	mpPayment     payment.MercadoPagoPayment
	mpFail        bool
}

func setupWebhookTest(t *testing.T) *webhookTestEnv {
	t.Helper()

	te := &webhookTestEnv{
		couples:     newFakeCoupleRepo(),
		payments:    &fakePaymentRepo{payments: map[uint]*models.Payment{}},
		events:      newFakeWebhookEventRepo(),
		commissions: &fakeCommissionRepo{commissions: map[uint]*models.Commission{}},
	}
	repos := &repository.Repositories{
		Couple:       te.couples,
		Payment:      te.payments,
		Partner:      &fakePartnerRepo{partners: map[uint]*models.Partner{}},
		Commission:   te.commissions,
		WebhookEvent: te.events,
	}

	stripeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if te.stripeFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(te.stripeSession)
	}))
	t.Cleanup(stripeSrv.Close)

	mpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if te.mpFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(te.mpPayment)
	}))
	t.Cleanup(mpSrv.Close)

	prevRepos := webhookRepos
	prevStripe := stripeClient
	prevMP := mercadoPagoClient
	prevService := reconcileService
	t.Cleanup(func() {
		webhookRepos = prevRepos
		stripeClient = prevStripe
		mercadoPagoClient = prevMP
		reconcileService = prevService
	})

	webhookRepos = repos
	stripeClient = &payment.StripeClient{
		SecretKey:  "sk_test_webhook",
		APIBaseURL: stripeSrv.URL,
		HTTPClient: stripeSrv.Client(),
	}
	mercadoPagoClient = &payment.MercadoPagoClient{
		AccessToken: "mp_test_token",
		APIBaseURL:  mpSrv.URL,
		HTTPClient:  mpSrv.Client(),
	}
	reconcileService = reconcile.NewServiceFromRepositories(repos, fakePhotoStore{})

	t.Setenv("STRIPE_WEBHOOK_SECRET", testStripeWebhookSecret)
	t.Setenv("MERCADO_PAGO_WEBHOOK_SECRET", testMercadoPagoWebhookSecret)

	app := fiber.New()
	app.Post("/api/v1/webhooks/stripe", HandleStripeWebhook)
	app.Post("/api/v1/webhooks/mercadopago", HandleMercadoPagoWebhook)
	te.app = app
	return te
}

func (te *webhookTestEnv) seedPayment(t *testing.T, provider string) *models.Payment {
	t.Helper()
	draft := models.Draft{
		CoupleName:   "Ana & Bruno",
		StartDate:    "2024-02-14",
		StartTime:    "20:00",
		Plan:         models.PlanBasic,
		Email:        "ana@example.com",
		PhotosBase64: []string{"data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("retrato"))},
	}
	raw, err := json.Marshal(draft)
	require.NoError(t, err)

	pmt := &models.Payment{
		ID:                1,
		Amount:            1990,
		Currency:          "brl",
		Status:            models.PaymentStatusPending,
		PlanType:          models.PlanBasic,
		Provider:          provider,
		CorrelationToken:  testCorrelationToken,
		ProviderSessionID: "cs_test_abc",
		Draft:             models.JSON(raw),
	}
	te.payments.payments[pmt.ID] = pmt
	return pmt
}

func stripeSignature(payload []byte, secret string) string {
	ts := "1700000001"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func mercadoPagoSignature(dataID, requestID, secret string) string {
	ts := "1700000001"
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEventBody(eventID, eventType, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q}}}`, eventID, eventType, sessionID))
}

func mercadoPagoNotificationBody(notificationID int64, action string, paymentID int64) []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"type":"payment","action":%q,"data":{"id":%d}}`, notificationID, action, paymentID))
}

func (te *webhookTestEnv) postStripe(t *testing.T, body []byte, signature string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)
	resp, err := te.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (te *webhookTestEnv) postMercadoPago(t *testing.T, body []byte, dataID string) *http.Response {
	t.Helper()
	requestID := "req-" + dataID
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-request-id", requestID)
	req.Header.Set("x-signature", mercadoPagoSignature(dataID, requestID, testMercadoPagoWebhookSecret))
	resp, err := te.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleStripeWebhookPaidSessionCreatesCouple(t *testing.T) {
	te := setupWebhookTest(t)
	pmt := te.seedPayment(t, models.PaymentProviderStripe)

	te.stripeSession = payment.StripeCheckoutSession{
		ID:            "cs_test_abc",
		Status:        "complete",
		PaymentStatus: "paid",
		PaymentIntent: "pi_123",
		Metadata:      map[string]string{"correlation_token": pmt.CorrelationToken},
	}

	body := stripeEventBody("evt_1", "checkout.session.completed", "cs_test_abc")
	resp := te.postStripe(t, body, stripeSignature(body, testStripeWebhookSecret))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["received"])
	assert.Equal(t, models.PaymentStatusSucceeded, out["status"])

	count, _ := te.couples.Count()
	assert.Equal(t, int64(1), count)

	stored, err := te.payments.GetByID(pmt.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CoupleID)
	assert.Equal(t, "pi_123", stored.ProviderPaymentID)

	audit := te.events.byKey[models.PaymentProviderStripe+"|evt_1"]
	require.NotNil(t, audit)
	require.NotNil(t, audit.ProcessedAt)
	assert.Empty(t, audit.ProcessingError)
	assert.True(t, audit.SignatureValid)
}

func TestHandleStripeWebhookInvalidSignatureRejected(t *testing.T) {
	te := setupWebhookTest(t)
	te.seedPayment(t, models.PaymentProviderStripe)

	body := stripeEventBody("evt_bad_sig", "checkout.session.completed", "cs_test_abc")
	resp := te.postStripe(t, body, "t=1700000001,v1=deadbeef")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, "invalid_signature", out["error"])

	// rejected payload is still kept for audit
	audit := te.events.byKey[models.PaymentProviderStripe+"|evt_bad_sig"]
	require.NotNil(t, audit)
	assert.False(t, audit.SignatureValid)

	count, _ := te.couples.Count()
	assert.Equal(t, int64(0), count)
}

// A redelivery of an event whose first attempt died on a provider outage
// must run the full pipeline again instead of being answered as a
// duplicate, otherwise the payment is stranded forever.
func TestHandleStripeWebhookRedeliveryAfterFetchFailureIsReprocessed(t *testing.T) {
	te := setupWebhookTest(t)
	pmt := te.seedPayment(t, models.PaymentProviderStripe)

	te.stripeFail = true
	body := stripeEventBody("evt_retry", "checkout.session.completed", "cs_test_abc")
	sig := stripeSignature(body, testStripeWebhookSecret)

	resp := te.postStripe(t, body, sig)
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, "provider_fetch_failed", out["error"])

	audit := te.events.byKey[models.PaymentProviderStripe+"|evt_retry"]
	require.NotNil(t, audit)
	require.NotNil(t, audit.ProcessedAt)
	assert.NotEmpty(t, audit.ProcessingError)

	// provider recovers, Stripe redelivers the exact same event
	te.stripeFail = false
	te.stripeSession = payment.StripeCheckoutSession{
		ID:            "cs_test_abc",
		Status:        "complete",
		PaymentStatus: "paid",
		PaymentIntent: "pi_retry",
		Metadata:      map[string]string{"correlation_token": pmt.CorrelationToken},
	}

	resp = te.postStripe(t, body, sig)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out = decodeBody(t, resp)
	assert.Equal(t, models.PaymentStatusSucceeded, out["status"])

	count, _ := te.couples.Count()
	assert.Equal(t, int64(1), count)
	assert.Empty(t, audit.ProcessingError)

	stored, _ := te.payments.GetByID(pmt.ID)
	require.NotNil(t, stored.CoupleID)
}

func TestHandleStripeWebhookRedeliveryAfterSuccessIsDuplicate(t *testing.T) {
	te := setupWebhookTest(t)
	pmt := te.seedPayment(t, models.PaymentProviderStripe)

	te.stripeSession = payment.StripeCheckoutSession{
		ID:            "cs_test_abc",
		Status:        "complete",
		PaymentStatus: "paid",
		PaymentIntent: "pi_123",
		Metadata:      map[string]string{"correlation_token": pmt.CorrelationToken},
	}

	body := stripeEventBody("evt_dup", "checkout.session.completed", "cs_test_abc")
	sig := stripeSignature(body, testStripeWebhookSecret)

	resp := te.postStripe(t, body, sig)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = te.postStripe(t, body, sig)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, true, out["duplicate"])

	count, _ := te.couples.Count()
	assert.Equal(t, int64(1), count, "completed events must not be reprocessed")
}

// The provider can notify before the payment row is visible locally. The
// 404 tells it to retry, and the retry of the same event id must not be
// swallowed as a duplicate.
func TestHandleStripeWebhookUnknownTokenRetriesUntilPaymentAppears(t *testing.T) {
	te := setupWebhookTest(t)

	te.stripeSession = payment.StripeCheckoutSession{
		ID:            "cs_test_abc",
		Status:        "complete",
		PaymentStatus: "paid",
		PaymentIntent: "pi_lag",
		Metadata:      map[string]string{"correlation_token": testCorrelationToken},
	}

	body := stripeEventBody("evt_lag", "checkout.session.completed", "cs_test_abc")
	sig := stripeSignature(body, testStripeWebhookSecret)

	resp := te.postStripe(t, body, sig)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, "unknown_payment", out["error"])

	pmt := te.seedPayment(t, models.PaymentProviderStripe)

	resp = te.postStripe(t, body, sig)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out = decodeBody(t, resp)
	assert.Equal(t, models.PaymentStatusSucceeded, out["status"])

	stored, _ := te.payments.GetByID(pmt.ID)
	require.NotNil(t, stored.CoupleID)
}

// Mercado Pago sends separate notifications per status transition; the
// approval that follows a pending notification for the same payment id
// must be processed as its own event.
func TestHandleMercadoPagoWebhookPendingThenApprovedCreatesCouple(t *testing.T) {
	te := setupWebhookTest(t)
	pmt := te.seedPayment(t, models.PaymentProviderMercadoPago)

	te.mpPayment = payment.MercadoPagoPayment{
		ID:                555,
		Status:            "pending",
		ExternalReference: pmt.CorrelationToken,
		PaymentMethodID:   "pix",
	}

	resp := te.postMercadoPago(t, mercadoPagoNotificationBody(101, "payment.created", 555), "555")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, models.PaymentStatusProcessing, out["status"])

	count, _ := te.couples.Count()
	assert.Equal(t, int64(0), count)

	te.mpPayment.Status = "approved"

	resp = te.postMercadoPago(t, mercadoPagoNotificationBody(102, "payment.updated", 555), "555")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out = decodeBody(t, resp)
	assert.Equal(t, models.PaymentStatusSucceeded, out["status"])
	assert.NotEqual(t, true, out["duplicate"])

	count, _ = te.couples.Count()
	assert.Equal(t, int64(1), count, "the approval notification must materialize the couple")

	stored, _ := te.payments.GetByID(pmt.ID)
	require.NotNil(t, stored.CoupleID)
	assert.Equal(t, "555", stored.ProviderPaymentID)
	assert.Equal(t, "pix", stored.PaymentMethod)

	// both transitions stay in the audit log as distinct events
	assert.Len(t, te.events.byKey, 2)
}

func TestHandleMercadoPagoWebhookNonPaymentNotificationIgnored(t *testing.T) {
	te := setupWebhookTest(t)
	te.seedPayment(t, models.PaymentProviderMercadoPago)

	body := []byte(`{"id":301,"type":"plan","action":"plan.updated","data":{"id":9}}`)
	resp := te.postMercadoPago(t, body, "9")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	assert.Equal(t, true, out["ignored"])

	count, _ := te.couples.Count()
	assert.Equal(t, int64(0), count)
}
