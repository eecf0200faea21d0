package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lovebloom/lovebloom/app/models"
	"github.com/lovebloom/lovebloom/app/repository"
	"github.com/lovebloom/lovebloom/internal/pkg/env"
	"github.com/lovebloom/lovebloom/internal/pkg/payment"
	"github.com/lovebloom/lovebloom/internal/pkg/photostore"
	"github.com/lovebloom/lovebloom/internal/pkg/reconcile"
)

var (
	reconcileService  *reconcile.Service
	stripeClient      *payment.StripeClient
	mercadoPagoClient *payment.MercadoPagoClient
	webhookRepos      *repository.Repositories
)

// unavailableStore stands in when S3 is not configured; every upload fails
// so reconciliation degrades all photos to placeholders instead of aborting.
type unavailableStore struct{}

func (unavailableStore) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	return "", errors.New("photo storage is not configured")
}

// InitializeWebhookController wires provider clients, the photo store and
// the reconciliation service. Must run after the repository factory is set up.
func InitializeWebhookController() {
	webhookRepos = repository.GetGlobalRepositories()
	stripeClient = payment.NewStripeClientFromEnv()
	mercadoPagoClient = payment.NewMercadoPagoClientFromEnv()

	var store reconcile.PhotoStore = unavailableStore{}
	if cfg, err := photostore.LoadConfig(); err != nil {
		log.Errorf("[Webhook] Photo store not configured, photos will degrade to placeholders: %v", err)
	} else if client, err := photostore.NewClient(cfg); err != nil {
		log.Errorf("[Webhook] Photo store unavailable, photos will degrade to placeholders: %v", err)
	} else {
		store = client
	}

	reconcileService = reconcile.NewServiceFromRepositories(webhookRepos, store)
}

// webhookAlreadyHandled reports whether a stored event was already
// processed to completion. Redeliveries of events whose first attempt
// failed mid-flight (provider fetch error, unknown token, reconciliation
// failure) must be processed again: the provider retries exactly because
// the first delivery did not succeed, and reconciliation is idempotent.
func webhookAlreadyHandled(ev *models.WebhookEvent) bool {
	return ev.ProcessedAt != nil && ev.ProcessingError == ""
}

// relevantStripeEvents are the checkout session lifecycle events we act on.
// Everything else is persisted for audit and acknowledged without processing.
var relevantStripeEvents = map[string]bool{
	"checkout.session.completed":               true,
	"checkout.session.expired":                 true,
	"checkout.session.async_payment_succeeded": true,
	"checkout.session.async_payment_failed":    true,
}

// HandleStripeWebhook receives Stripe events. The raw payload is persisted
// before any validation so no delivery is ever lost, the signature is
// verified, and the authoritative session state is re-fetched from the
// Stripe API rather than trusted from the notification body.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	repos := webhookRepos

	event, parseErr := payment.ParseStripeWebhookEvent(rawBody)

	eventID := ""
	eventType := ""
	if parseErr == nil {
		eventID = event.ID
		eventType = event.Type
	}
	if eventID == "" {
		eventID = payloadHashID(rawBody)
	}

	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	signatureValid := payment.VerifyStripeWebhookSignature(rawBody, c.Get("Stripe-Signature"), secret)

	created, audit, err := repos.WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to persist Stripe event %s: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_persist_failed"})
	}
	if !created {
		if webhookAlreadyHandled(audit) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
		}
		log.Infof("[Webhook] Reprocessing Stripe event %s after incomplete first attempt", eventID)
	}

	if !signatureValid {
		log.Warnf("[Webhook] Stripe signature verification failed for event %s", eventID)
		markWebhookProcessed(repos, audit.ID, "invalid signature")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if parseErr != nil {
		markWebhookProcessed(repos, audit.ID, parseErr.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if !relevantStripeEvents[event.Type] {
		markWebhookProcessed(repos, audit.ID, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	}

	sessionID := strings.TrimSpace(event.Data.Object.ID)
	if sessionID == "" {
		markWebhookProcessed(repos, audit.ID, "event carries no session id")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_session_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := stripeClient.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		log.Errorf("[Webhook] Failed to fetch Stripe session %s: %v", sessionID, err)
		markWebhookProcessed(repos, audit.ID, err.Error())
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_fetch_failed"})
	}

	providerStatus := session.PaymentStatus
	if event.Type == "checkout.session.expired" || session.Status == "expired" {
		providerStatus = "expired"
	}

	normalized := payment.NormalizedPaymentEvent{
		Provider:          models.PaymentProviderStripe,
		CorrelationToken:  session.CorrelationToken(),
		ProviderPaymentID: session.PaymentIntent,
		ProviderStatus:    providerStatus,
	}
	if normalized.ProviderPaymentID == "" {
		normalized.ProviderPaymentID = session.ID
	}

	// Sessions created before metadata was attached carry no token; fall
	// back to matching the stored session id.
	if normalized.CorrelationToken == "" {
		if pmt, lookupErr := repos.Payment.GetByProviderSessionID(session.ID); lookupErr == nil {
			normalized.CorrelationToken = pmt.CorrelationToken
		}
	}

	return finishWebhook(c, repos, audit.ID, normalized)
}

// HandleMercadoPagoWebhook receives Mercado Pago notifications. Only
// payment-type notifications are processed; the payment resource is
// re-fetched from the Mercado Pago API for its authoritative status.
func HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	repos := webhookRepos

	notification, parseErr := payment.ParseMercadoPagoNotification(rawBody)

	dataID := ""
	notifType := ""
	eventID := ""
	if parseErr == nil {
		dataID = notification.Data.ID.String()
		notifType = notification.Type
		eventID = mercadoPagoEventID(notification)
	}
	if eventID == "" {
		eventID = payloadHashID(rawBody)
	}

	secret := env.GetEnv("MERCADO_PAGO_WEBHOOK_SECRET", "")
	signatureValid := payment.VerifyMercadoPagoWebhookSignature(c.Get("x-signature"), c.Get("x-request-id"), dataID, secret)

	created, audit, err := repos.WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		Provider:        models.PaymentProviderMercadoPago,
		ProviderEventID: eventID,
		EventType:       notifType,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to persist Mercado Pago event %s: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_persist_failed"})
	}
	if !created {
		if webhookAlreadyHandled(audit) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
		}
		log.Infof("[Webhook] Reprocessing Mercado Pago event %s after incomplete first attempt", eventID)
	}

	if !signatureValid {
		log.Warnf("[Webhook] Mercado Pago signature verification failed for event %s", eventID)
		markWebhookProcessed(repos, audit.ID, "invalid signature")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if parseErr != nil {
		markWebhookProcessed(repos, audit.ID, parseErr.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if !strings.EqualFold(notifType, "payment") || dataID == "" {
		markWebhookProcessed(repos, audit.ID, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mpPayment, err := mercadoPagoClient.GetPayment(ctx, dataID)
	if err != nil {
		log.Errorf("[Webhook] Failed to fetch Mercado Pago payment %s: %v", dataID, err)
		markWebhookProcessed(repos, audit.ID, err.Error())
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_fetch_failed"})
	}

	normalized := payment.NormalizedPaymentEvent{
		Provider:          models.PaymentProviderMercadoPago,
		CorrelationToken:  mpPayment.ExternalReference,
		ProviderPaymentID: strconv.FormatInt(mpPayment.ID, 10),
		ProviderStatus:    mpPayment.Status,
		PaymentMethod:     mpPayment.PaymentMethodID,
	}

	return finishWebhook(c, repos, audit.ID, normalized)
}

// finishWebhook runs reconciliation for a normalized event and maps its
// outcome to a webhook response. 200 is only returned once the local
// state change is durable, so the provider retries anything transient.
func finishWebhook(c *fiber.Ctx, repos *repository.Repositories, auditID uint, ev payment.NormalizedPaymentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := reconcileService.ProcessEvent(ctx, ev)
	if err != nil {
		markWebhookProcessed(repos, auditID, err.Error())
		if errors.Is(err, payment.ErrNotFound) {
			log.Warnf("[Webhook] No payment matches correlation token %q", ev.CorrelationToken)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_payment"})
		}
		log.Errorf("[Webhook] Reconciliation failed for token %q: %v", ev.CorrelationToken, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed"})
	}

	note := ""
	if result.UnmappedStatus != "" {
		note = fmt.Sprintf("unmapped provider status %q left local status untouched", result.UnmappedStatus)
	}
	markWebhookProcessed(repos, auditID, note)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": true,
		"status":   result.Status,
	})
}

func markWebhookProcessed(repos *repository.Repositories, auditID uint, processingError string) {
	if err := repos.WebhookEvent.MarkProcessed(auditID, processingError); err != nil {
		log.Errorf("[Webhook] Failed to mark event %d processed: %v", auditID, err)
	}
}

// mercadoPagoEventID builds the dedup key for a notification. The
// notification id is unique per event, so distinct status-transition
// notifications for the same payment (payment.created while pending,
// payment.updated on approval) never collide. Older IPN payloads without
// a notification id fall back to action plus payment id.
func mercadoPagoEventID(n *payment.MercadoPagoNotification) string {
	if id := n.ID.String(); id != "" && id != "0" {
		return "ntf:" + id
	}
	kind := n.Action
	if kind == "" {
		kind = n.Type
	}
	dataID := n.Data.ID.String()
	if dataID == "" {
		return ""
	}
	if kind == "" {
		return dataID
	}
	return kind + ":" + dataID
}

// payloadHashID stands in as the dedup key when a payload carries no event id.
func payloadHashID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("hash:%s", hex.EncodeToString(sum[:]))
}
