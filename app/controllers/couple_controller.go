package controllers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lovebloom/lovebloom/app/models"
	"github.com/lovebloom/lovebloom/app/repository"
	"github.com/lovebloom/lovebloom/internal/pkg/cache"
)

const coupleCacheTTL = 10 * time.Minute

// coupleResponse is the public page payload. Buyer email stays private.
type coupleResponse struct {
	ID         uint                 `json:"id"`
	CoupleName string               `json:"couple_name"`
	StartDate  string               `json:"start_date"`
	StartTime  string               `json:"start_time"`
	Message    string               `json:"message"`
	Plan       string               `json:"plan"`
	MusicURL   string               `json:"music_url,omitempty"`
	URLSlug    string               `json:"url_slug"`
	Photos     []models.CouplePhoto `json:"photos"`
}

// HandleGetCoupleBySlug serves the public couple page data. Hits are cached
// in Redis; misses are not, so a slug published moments after a miss is
// visible immediately.
func HandleGetCoupleBySlug(c *fiber.Ctx) error {
	slug := strings.TrimSpace(c.Params("slug"))
	if slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_slug"})
	}

	cacheKey := "couple:slug:" + slug
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).SendString(cached)
	}

	couple, err := repository.GetGlobalRepositories().Couple.GetBySlugWithPhotos(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "couple_not_found"})
		}
		log.Errorf("[Couple] Lookup for slug %s failed: %v", slug, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "couple_lookup_failed"})
	}

	response := coupleResponse{
		ID:         couple.ID,
		CoupleName: couple.CoupleName,
		StartDate:  couple.StartDate.Format("2006-01-02"),
		StartTime:  couple.StartTime,
		Message:    couple.Message,
		Plan:       couple.Plan,
		MusicURL:   couple.MusicURL,
		URLSlug:    couple.URLSlug,
		Photos:     couple.Photos,
	}

	if body, marshalErr := json.Marshal(response); marshalErr == nil {
		if cacheErr := cache.Set(cacheKey, string(body), coupleCacheTTL); cacheErr != nil {
			log.Warnf("[Couple] Could not cache slug %s: %v", slug, cacheErr)
		}
	}

	return c.Status(fiber.StatusOK).JSON(response)
}
