package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lovebloom/lovebloom/app/models"
	"github.com/lovebloom/lovebloom/app/repository"
	"github.com/lovebloom/lovebloom/internal/pkg/env"
)

const correlationTokenAttempts = 3

// CheckoutInput is the buyer's submitted draft plus the selected plan and
// provider. Amounts are intentionally absent: prices are resolved from the
// server-side plan table only.
type CheckoutInput struct {
	Provider     string   `json:"provider" validate:"required,oneof=stripe mercado_pago"`
	Plan         string   `json:"plan" validate:"required,oneof=basic premium"`
	CoupleName   string   `json:"couple_name" validate:"required,min=1,max=150"`
	StartDate    string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	StartTime    string   `json:"start_time" validate:"omitempty,datetime=15:04"`
	Message      string   `json:"message" validate:"max=5000"`
	MusicURL     string   `json:"music_url" validate:"omitempty,url,max=500"`
	Email        string   `json:"email" validate:"required,email,max=200"`
	PhotosBase64 []string `json:"photos_base64"`
	ReferralCode string   `json:"referral_code" validate:"omitempty,max=50"`
}

// CheckoutResult is returned to the caller for redirection to the hosted
// checkout page.
type CheckoutResult struct {
	PaymentID   uint   `json:"payment_id"`
	RedirectURL string `json:"redirect_url"`
}

// Service implements the checkout initiation flow: validate the draft,
// persist a pending payment carrying it, and open a hosted checkout
// session with the selected provider.
type Service struct {
	payments repository.PaymentRepository
	partners repository.PartnerRepository
	stripe   *StripeClient
	mp       *MercadoPagoClient
	validate *validator.Validate

	publicDomain string
}

// NewService creates a checkout service with injected dependencies.
func NewService(payments repository.PaymentRepository, partners repository.PartnerRepository, stripe *StripeClient, mp *MercadoPagoClient, publicDomain string) *Service {
	return &Service{
		payments:     payments,
		partners:     partners,
		stripe:       stripe,
		mp:           mp,
		validate:     validator.New(),
		publicDomain: strings.TrimRight(publicDomain, "/"),
	}
}

// NewServiceFromEnv creates a checkout service wired to the global
// repositories and env-configured provider clients.
func NewServiceFromEnv(repos *repository.Repositories) *Service {
	return NewService(
		repos.Payment,
		repos.Partner,
		NewStripeClientFromEnv(),
		NewMercadoPagoClientFromEnv(),
		env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"),
	)
}

// CreateCheckout validates the draft, stores a pending payment and returns
// the provider's hosted-checkout URL.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	plan, ok := ResolvePlan(in.Plan)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrValidation, in.Plan)
	}
	if len(in.PhotosBase64) > plan.PhotoLimit {
		return nil, fmt.Errorf("%w: plan %s allows at most %d photos, got %d", ErrValidation, plan.Plan, plan.PhotoLimit, len(in.PhotosBase64))
	}
	for i, photo := range in.PhotosBase64 {
		if !strings.HasPrefix(photo, "data:") {
			return nil, fmt.Errorf("%w: photo %d is not a data URI", ErrValidation, i+1)
		}
	}

	draft := models.Draft{
		CoupleName:   strings.TrimSpace(in.CoupleName),
		StartDate:    in.StartDate,
		StartTime:    in.StartTime,
		Message:      in.Message,
		Plan:         plan.Plan,
		MusicURL:     in.MusicURL,
		Email:        strings.TrimSpace(in.Email),
		PhotosBase64: in.PhotosBase64,
		ReferralCode: strings.ToUpper(strings.TrimSpace(in.ReferralCode)),
	}
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return nil, err
	}

	pmt := &models.Payment{
		Amount:   plan.Amount,
		Currency: plan.Currency,
		Status:   models.PaymentStatusPending,
		PlanType: plan.Plan,
		Provider: in.Provider,
		Draft:    models.JSON(draftJSON),
	}
	s.attachPartner(pmt, draft.ReferralCode)

	if err := s.createWithUniqueToken(pmt); err != nil {
		return nil, err
	}
	log.Infof("[Checkout] payment created id=%d provider=%s plan=%s amount=%d", pmt.ID, pmt.Provider, pmt.PlanType, pmt.Amount)

	redirectURL, sessionID, err := s.openProviderSession(ctx, pmt, plan, draft)
	if err != nil {
		if updateErr := s.payments.UpdateStatus(pmt.ID, models.PaymentStatusFailed, "", "", ""); updateErr != nil {
			log.Errorf("[Checkout] payment %d could not be marked failed: %v", pmt.ID, updateErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	pmt.ProviderSessionID = sessionID
	if err := s.payments.Update(pmt); err != nil {
		return nil, err
	}

	log.Infof("[Checkout] session opened payment=%d provider=%s session=%s", pmt.ID, pmt.Provider, sessionID)
	return &CheckoutResult{PaymentID: pmt.ID, RedirectURL: redirectURL}, nil
}

// attachPartner resolves an optional referral code to an active partner.
// Unknown codes are ignored, not fatal.
func (s *Service) attachPartner(pmt *models.Payment, referralCode string) {
	if referralCode == "" {
		return
	}
	partner, err := s.partners.GetActiveByReferralCode(referralCode)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Checkout] partner lookup for code %s failed: %v", referralCode, err)
		}
		return
	}
	pmt.PartnerID = &partner.ID
	pmt.ReferralCode = referralCode
}

// createWithUniqueToken inserts the payment, regenerating the correlation
// token on the rare unique collision. Collisions are a retryable internal
// condition, never surfaced to the caller.
func (s *Service) createWithUniqueToken(pmt *models.Payment) error {
	var err error
	for attempt := 0; attempt < correlationTokenAttempts; attempt++ {
		pmt.CorrelationToken = newCorrelationToken()
		err = s.payments.Create(pmt)
		if err == nil {
			return nil
		}
		if !isDuplicateKeyError(err) {
			return err
		}
		log.Warnf("[Checkout] correlation token collision on attempt %d", attempt+1)
	}
	return fmt.Errorf("could not allocate a unique correlation token: %w", err)
}

func (s *Service) openProviderSession(ctx context.Context, pmt *models.Payment, plan PlanConfig, draft models.Draft) (redirectURL, sessionID string, err error) {
	successURL := fmt.Sprintf("%s/payment-success?payment_id=%d", s.publicDomain, pmt.ID)
	failureURL := fmt.Sprintf("%s/payment-failure?payment_id=%d", s.publicDomain, pmt.ID)

	switch pmt.Provider {
	case models.PaymentProviderStripe:
		session, sErr := s.stripe.CreateCheckoutSession(ctx, StripeCheckoutSessionInput{
			PlanName:         fmt.Sprintf("%s - %s", plan.Name, draft.CoupleName),
			PlanDescription:  plan.Description,
			Amount:           plan.Amount,
			Currency:         plan.Currency,
			CorrelationToken: pmt.CorrelationToken,
			SuccessURL:       successURL,
			CancelURL:        failureURL,
			CustomerEmail:    draft.Email,
		})
		if sErr != nil {
			return "", "", sErr
		}
		return session.URL, session.ID, nil
	case models.PaymentProviderMercadoPago:
		pref, pErr := s.mp.CreatePreference(ctx, MercadoPagoPreferenceInput{
			Title:            fmt.Sprintf("%s - LoveBloom", plan.Name),
			Amount:           plan.Amount,
			CorrelationToken: pmt.CorrelationToken,
			PayerEmail:       draft.Email,
			PayerName:        draft.CoupleName,
			NotificationURL:  s.publicDomain + "/api/v1/webhooks/mercadopago",
			SuccessURL:       successURL,
			FailureURL:       failureURL,
			PendingURL:       fmt.Sprintf("%s/payment-pending?payment_id=%d", s.publicDomain, pmt.ID),
		})
		if pErr != nil {
			return "", "", pErr
		}
		return pref.InitPoint, pref.ID, nil
	default:
		return "", "", fmt.Errorf("unsupported provider %q", pmt.Provider)
	}
}

func newCorrelationToken() string {
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("couple_%d_%s", time.Now().UnixMilli(), entropy)
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate entry")
}
