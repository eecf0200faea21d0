package repository

import (
	"strings"

	"github.com/lovebloom/lovebloom/app/models"
	"gorm.io/gorm"
)

// partnerRepository implements the PartnerRepository interface
type partnerRepository struct {
	db *gorm.DB
}

// NewPartnerRepository creates a new partner repository instance
func NewPartnerRepository(db *gorm.DB) PartnerRepository {
	return &partnerRepository{db: db}
}

// Create creates a new partner in the database
func (r *partnerRepository) Create(partner *models.Partner) error {
	partner.ReferralCode = strings.ToUpper(strings.TrimSpace(partner.ReferralCode))
	return r.db.Create(partner).Error
}

// GetByID retrieves a partner by its ID
func (r *partnerRepository) GetByID(id uint) (*models.Partner, error) {
	var partner models.Partner
	err := r.db.First(&partner, id).Error
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// GetActiveByReferralCode resolves a referral code to an active partner.
// Codes are stored and matched upper-cased.
func (r *partnerRepository) GetActiveByReferralCode(code string) (*models.Partner, error) {
	var partner models.Partner
	err := r.db.
		Where("referral_code = ? AND status = ?", strings.ToUpper(strings.TrimSpace(code)), models.PartnerStatusActive).
		First(&partner).Error
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// Update persists all fields of the partner
func (r *partnerRepository) Update(partner *models.Partner) error {
	return r.db.Save(partner).Error
}
