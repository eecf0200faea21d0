package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/lovebloom/lovebloom/app/repository"
	"github.com/lovebloom/lovebloom/internal/pkg/payment"
)

var checkoutService *payment.Service

// InitializeCheckoutController wires the checkout service to the global
// repositories and env-configured provider clients.
func InitializeCheckoutController() {
	checkoutService = payment.NewServiceFromEnv(repository.GetGlobalRepositories())
}

// HandleCreateCheckout accepts a buyer draft, stores a pending payment and
// returns the provider's hosted-checkout URL for redirection.
func HandleCreateCheckout(c *fiber.Ctx) error {
	var in payment.CheckoutInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := checkoutService.CreateCheckout(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
		case errors.Is(err, payment.ErrPaymentProvider):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_failed"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleGetPaymentStatus reports payment state to the hosted-checkout
// return pages, which poll until reconciliation has produced a couple.
func HandleGetPaymentStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payment_id"})
	}

	repos := repository.GetGlobalRepositories()
	pmt, err := repos.Payment.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_lookup_failed"})
	}

	response := fiber.Map{
		"id":        pmt.ID,
		"status":    pmt.Status,
		"plan_type": pmt.PlanType,
		"amount":    pmt.Amount,
		"currency":  pmt.Currency,
	}
	if pmt.IsReconciled() {
		if couple, cErr := repos.Couple.GetByID(*pmt.CoupleID); cErr == nil {
			response["couple_slug"] = couple.URLSlug
		}
	}
	return c.Status(fiber.StatusOK).JSON(response)
}
