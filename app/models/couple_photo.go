package models

import "time"

// CouplePhoto is one stored photo of a couple page, ordered by PhotoOrder
// as submitted in the original draft. PhotoURL may point at a placeholder
// when the original upload failed during reconciliation.
type CouplePhoto struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CoupleID   uint      `gorm:"not null;index" json:"couple_id"`
	PhotoURL   string    `gorm:"type:varchar(500);not null" json:"photo_url"`
	PhotoOrder int       `gorm:"not null;default:1" json:"photo_order"`
	FileName   string    `gorm:"type:varchar(255)" json:"file_name,omitempty"`
	FileSize   int64     `gorm:"type:bigint;default:0" json:"file_size"`
	FileType   string    `gorm:"type:varchar(50)" json:"file_type,omitempty"`
	Width      int       `gorm:"type:int;default:0" json:"width,omitempty"`
	Height     int       `gorm:"type:int;default:0" json:"height,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
