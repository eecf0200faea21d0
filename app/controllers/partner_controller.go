package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lovebloom/lovebloom/app/repository"
)

// HandleValidateReferralCode tells the checkout page whether a referral
// code belongs to an active partner. The checkout itself re-validates, so
// this endpoint is purely advisory.
func HandleValidateReferralCode(c *fiber.Ctx) error {
	code := strings.ToUpper(strings.TrimSpace(c.Params("code")))
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_referral_code"})
	}

	partner, err := repository.GetGlobalRepositories().Partner.GetActiveByReferralCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"valid": false})
		}
		log.Errorf("[Partner] Referral code %s lookup failed: %v", code, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "referral_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"valid":         true,
		"partner_name":  partner.Name,
		"referral_code": partner.ReferralCode,
	})
}
