package models

import (
	"encoding/json"
	"time"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusCanceled   = "canceled"
)

const (
	PaymentProviderStripe      = "stripe"
	PaymentProviderMercadoPago = "mercado_pago"
)

// Draft is the buyer-submitted page configuration carried inside a pending
// payment until reconciliation consumes it. Photos are embedded as base64
// data URIs bounded by the plan's photo limit.
type Draft struct {
	CoupleName   string   `json:"couple_name"`
	StartDate    string   `json:"start_date"`
	StartTime    string   `json:"start_time,omitempty"`
	Message      string   `json:"message,omitempty"`
	Plan         string   `json:"plan"`
	MusicURL     string   `json:"music_url,omitempty"`
	Email        string   `json:"email"`
	PhotosBase64 []string `json:"photos_base64,omitempty"`
	ReferralCode string   `json:"referral_code,omitempty"`
}

// Payment tracks one checkout attempt against a provider. CoupleID stays
// NULL until a success event has been reconciled; that NULL check is the
// idempotence guard for concurrent duplicate webhook deliveries.
type Payment struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Amount            int64     `gorm:"not null" json:"amount"`
	Currency          string    `gorm:"type:varchar(10);not null;default:'brl'" json:"currency"`
	Status            string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PlanType          string    `gorm:"type:varchar(20);not null" json:"plan_type"`
	Provider          string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	CorrelationToken  string    `gorm:"type:varchar(191) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"correlation_token"`
	ProviderSessionID string    `gorm:"type:varchar(191);index" json:"provider_session_id,omitempty"`
	ProviderPaymentID string    `gorm:"type:varchar(191);index" json:"provider_payment_id,omitempty"`
	ProviderStatus    string    `gorm:"type:varchar(50)" json:"provider_status,omitempty"`
	PaymentMethod     string    `gorm:"type:varchar(50)" json:"payment_method,omitempty"`
	CoupleID          *uint     `gorm:"index" json:"couple_id,omitempty"`
	Couple            *Couple   `gorm:"foreignKey:CoupleID" json:"-"`
	PartnerID         *uint     `gorm:"index" json:"partner_id,omitempty"`
	ReferralCode      string    `gorm:"type:varchar(50)" json:"referral_code,omitempty"`
	Draft             JSON      `gorm:"type:json" json:"-"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DecodeDraft unmarshals the stored draft document. Returns nil when no
// draft is attached (already consumed or never present).
func (p *Payment) DecodeDraft() (*Draft, error) {
	if len(p.Draft) == 0 || string(p.Draft) == "null" {
		return nil, nil
	}
	var d Draft
	if err := json.Unmarshal(p.Draft, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// IsReconciled reports whether a couple record has already been created
// for this payment.
func (p *Payment) IsReconciled() bool {
	return p.CoupleID != nil && *p.CoupleID != 0
}
