package repository

import (
	"github.com/lovebloom/lovebloom/app/models"
	"gorm.io/gorm"
)

// CoupleRepository defines the interface for couple-related database operations
type CoupleRepository interface {
	Create(couple *models.Couple) error
	GetByID(id uint) (*models.Couple, error)
	GetBySlug(slug string) (*models.Couple, error)
	GetBySlugWithPhotos(slug string) (*models.Couple, error)
	SlugExists(slug string) (bool, error)
	AddPhoto(photo *models.CouplePhoto) error
	GetPhotos(coupleID uint) ([]models.CouplePhoto, error)
	Delete(id uint) error
	Count() (int64, error)
}

// PaymentRepository defines the interface for payment-related database operations
type PaymentRepository interface {
	Create(payment *models.Payment) error
	GetByID(id uint) (*models.Payment, error)
	GetByCorrelationToken(token string) (*models.Payment, error)
	GetByProviderSessionID(sessionID string) (*models.Payment, error)
	Update(payment *models.Payment) error
	UpdateStatus(id uint, status, providerPaymentID, providerStatus, paymentMethod string) error
	// SetCoupleIfUnset links a couple to the payment only while couple_id is
	// still NULL and reports whether this caller won the claim. It is the
	// idempotence guard for concurrent duplicate success events.
	SetCoupleIfUnset(id uint, coupleID uint, providerPaymentID, providerStatus, paymentMethod string) (bool, error)
	ClearDraft(id uint) error
}

// PartnerRepository defines the interface for referral partner operations
type PartnerRepository interface {
	Create(partner *models.Partner) error
	GetByID(id uint) (*models.Partner, error)
	GetActiveByReferralCode(code string) (*models.Partner, error)
	Update(partner *models.Partner) error
}

// CommissionRepository defines the interface for commission bookkeeping
type CommissionRepository interface {
	// CreateIfNotExists inserts the commission unless one already exists for
	// the same payment. Reports whether a row was created.
	CreateIfNotExists(commission *models.Commission) (bool, error)
	GetByPaymentID(paymentID uint) (*models.Commission, error)
	ListByPartnerID(partnerID uint) ([]models.Commission, error)
}

// WebhookEventRepository defines the interface for the raw webhook audit log
type WebhookEventRepository interface {
	// CreateIfNotExists persists the event unless the same provider event id
	// was already recorded. Returns the stored row either way.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Couple       CoupleRepository
	Payment      PaymentRepository
	Partner      PartnerRepository
	Commission   CommissionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Couple:       NewCoupleRepository(db),
		Payment:      NewPaymentRepository(db),
		Partner:      NewPartnerRepository(db),
		Commission:   NewCommissionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
