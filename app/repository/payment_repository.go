package repository

import (
	"time"

	"github.com/lovebloom/lovebloom/app/models"
	"gorm.io/gorm"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create creates a new payment in the database
func (r *paymentRepository) Create(payment *models.Payment) error {
	return r.db.Create(payment).Error
}

// GetByID retrieves a payment by its ID
func (r *paymentRepository) GetByID(id uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.First(&payment, id).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByCorrelationToken retrieves a payment by the provider correlation token
func (r *paymentRepository) GetByCorrelationToken(token string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("correlation_token = ?", token).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByProviderSessionID retrieves a payment by the provider checkout session id
func (r *paymentRepository) GetByProviderSessionID(sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider_session_id = ?", sessionID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Update persists all fields of the payment
func (r *paymentRepository) Update(payment *models.Payment) error {
	return r.db.Save(payment).Error
}

// UpdateStatus updates the status fields of a payment without touching the draft
func (r *paymentRepository) UpdateStatus(id uint, status, providerPaymentID, providerStatus, paymentMethod string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if providerPaymentID != "" {
		updates["provider_payment_id"] = providerPaymentID
	}
	if providerStatus != "" {
		updates["provider_status"] = providerStatus
	}
	if paymentMethod != "" {
		updates["payment_method"] = paymentMethod
	}
	return r.db.Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

// SetCoupleIfUnset links the couple while couple_id is still NULL. The
// conditional WHERE clause makes concurrent duplicate success events race
// safely: exactly one caller observes RowsAffected > 0.
func (r *paymentRepository) SetCoupleIfUnset(id uint, coupleID uint, providerPaymentID, providerStatus, paymentMethod string) (bool, error) {
	updates := map[string]interface{}{
		"couple_id":  coupleID,
		"status":     models.PaymentStatusSucceeded,
		"updated_at": time.Now(),
	}
	if providerPaymentID != "" {
		updates["provider_payment_id"] = providerPaymentID
	}
	if providerStatus != "" {
		updates["provider_status"] = providerStatus
	}
	if paymentMethod != "" {
		updates["payment_method"] = paymentMethod
	}
	tx := r.db.Model(&models.Payment{}).
		Where("id = ? AND couple_id IS NULL", id).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ClearDraft drops the consumed draft payload from the payment row
func (r *paymentRepository) ClearDraft(id uint) error {
	return r.db.Model(&models.Payment{}).Where("id = ?", id).Update("draft", nil).Error
}
