package models

import "time"

const (
	PartnerStatusActive   = "active"
	PartnerStatusInactive = "inactive"
)

// Partner is a referral partner. Payments carrying the partner's referral
// code earn a commission once the purchase reconciles.
type Partner struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"type:varchar(150);not null" json:"name"`
	Email                string    `gorm:"type:varchar(200);not null" json:"email"`
	Phone                string    `gorm:"type:varchar(30);default:null" json:"phone,omitempty"`
	Document             string    `gorm:"type:varchar(30);default:null" json:"document,omitempty"`
	ReferralCode         string    `gorm:"type:varchar(50) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"referral_code"`
	CommissionPercentage float64   `gorm:"type:decimal(5,2);not null;default:0" json:"commission_percentage"`
	Status               string    `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	StripeAccountID      string    `gorm:"type:varchar(191);default:null" json:"-"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the partner may earn new commissions.
func (p *Partner) IsActive() bool {
	return p.Status == PartnerStatusActive
}
