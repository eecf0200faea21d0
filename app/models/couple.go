package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// Couple is the persisted record behind a paid, activated counter page.
// It is created exactly once per successful payment; the url_slug is
// immutable after creation.
type Couple struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CoupleName string         `gorm:"type:varchar(150);not null" json:"couple_name" validate:"required,min=1,max=150"`
	StartDate  time.Time      `gorm:"type:date;not null" json:"start_date" validate:"required"`
	StartTime  string         `gorm:"type:varchar(8);default:null" json:"start_time,omitempty"`
	Message    string         `gorm:"type:text" json:"message,omitempty" validate:"max=5000"`
	Plan       string         `gorm:"type:varchar(20);not null;default:'basic'" json:"plan" validate:"oneof=basic premium"`
	MusicURL   string         `gorm:"type:varchar(500);default:null" json:"music_url,omitempty" validate:"omitempty,url,max=500"`
	Email      string         `gorm:"type:varchar(200);not null;index" json:"email" validate:"required,email,max=200"`
	URLSlug    string         `gorm:"type:varchar(191) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"url_slug"`
	Photos     []CouplePhoto  `gorm:"foreignKey:CoupleID;constraint:OnDelete:CASCADE" json:"photos,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Couple) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

// PlanPhotoLimit returns the photo ceiling granted by a plan.
func PlanPhotoLimit(plan string) int {
	if plan == PlanPremium {
		return 5
	}
	return 2
}

// IsValidPlan reports whether plan is a sellable plan identifier.
func IsValidPlan(plan string) bool {
	return plan == PlanBasic || plan == PlanPremium
}
