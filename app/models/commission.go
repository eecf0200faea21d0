package models

import "time"

const (
	CommissionStatusPending   = "pending"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

// Commission is one earned referral line item. The unique index on
// PaymentID enforces at most one commission per payment.
type Commission struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	PartnerID            uint      `gorm:"not null;index" json:"partner_id"`
	Partner              Partner   `gorm:"foreignKey:PartnerID" json:"-"`
	PaymentID            uint      `gorm:"not null;uniqueIndex" json:"payment_id"`
	CommissionAmount     int64     `gorm:"not null" json:"commission_amount"`
	CommissionPercentage float64   `gorm:"type:decimal(5,2);not null" json:"commission_percentage"`
	Status               string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
