package repository

import (
	"github.com/lovebloom/lovebloom/app/models"
	"gorm.io/gorm"
)

// coupleRepository implements the CoupleRepository interface
type coupleRepository struct {
	db *gorm.DB
}

// NewCoupleRepository creates a new couple repository instance
func NewCoupleRepository(db *gorm.DB) CoupleRepository {
	return &coupleRepository{db: db}
}

// Create creates a new couple in the database
func (r *coupleRepository) Create(couple *models.Couple) error {
	return r.db.Create(couple).Error
}

// GetByID retrieves a couple by its ID
func (r *coupleRepository) GetByID(id uint) (*models.Couple, error) {
	var couple models.Couple
	err := r.db.First(&couple, id).Error
	if err != nil {
		return nil, err
	}
	return &couple, nil
}

// GetBySlug retrieves a couple by its public URL slug
func (r *coupleRepository) GetBySlug(slug string) (*models.Couple, error) {
	var couple models.Couple
	err := r.db.Where("url_slug = ?", slug).First(&couple).Error
	if err != nil {
		return nil, err
	}
	return &couple, nil
}

// GetBySlugWithPhotos retrieves a couple with its photos ordered by photo_order
func (r *coupleRepository) GetBySlugWithPhotos(slug string) (*models.Couple, error) {
	var couple models.Couple
	err := r.db.
		Preload("Photos", func(db *gorm.DB) *gorm.DB {
			return db.Order("photo_order ASC")
		}).
		Where("url_slug = ?", slug).
		First(&couple).Error
	if err != nil {
		return nil, err
	}
	return &couple, nil
}

// SlugExists checks if a slug is already taken
func (r *coupleRepository) SlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Couple{}).Where("url_slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// AddPhoto stores one photo row for a couple
func (r *coupleRepository) AddPhoto(photo *models.CouplePhoto) error {
	return r.db.Create(photo).Error
}

// GetPhotos returns all photos of a couple ordered by photo_order
func (r *coupleRepository) GetPhotos(coupleID uint) ([]models.CouplePhoto, error) {
	var photos []models.CouplePhoto
	err := r.db.Where("couple_id = ?", coupleID).Order("photo_order ASC").Find(&photos).Error
	return photos, err
}

// Delete permanently removes a couple and its photos. A soft delete would
// keep the url_slug occupied in the unique index while SlugExists reports
// it free, so duplicates from lost reconciliation races are hard-deleted.
func (r *coupleRepository) Delete(id uint) error {
	return r.db.Unscoped().Select("Photos").Delete(&models.Couple{ID: id}).Error
}

// Count returns the total number of couples
func (r *coupleRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Couple{}).Count(&count).Error
	return count, err
}
