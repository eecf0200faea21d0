package repository

import (
	"github.com/lovebloom/lovebloom/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// commissionRepository implements the CommissionRepository interface
type commissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository creates a new commission repository instance
func NewCommissionRepository(db *gorm.DB) CommissionRepository {
	return &commissionRepository{db: db}
}

// CreateIfNotExists inserts the commission unless the payment already has
// one. The unique index on payment_id backs the ON CONFLICT clause.
func (r *commissionRepository) CreateIfNotExists(commission *models.Commission) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(commission)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// GetByPaymentID retrieves the commission earned by a payment
func (r *commissionRepository) GetByPaymentID(paymentID uint) (*models.Commission, error) {
	var commission models.Commission
	err := r.db.Where("payment_id = ?", paymentID).First(&commission).Error
	if err != nil {
		return nil, err
	}
	return &commission, nil
}

// ListByPartnerID returns all commissions earned by a partner
func (r *commissionRepository) ListByPartnerID(partnerID uint) ([]models.Commission, error) {
	var commissions []models.Commission
	err := r.db.Where("partner_id = ?", partnerID).Order("created_at DESC").Find(&commissions).Error
	return commissions, err
}
