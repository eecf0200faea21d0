package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/lovebloom/lovebloom/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	controllers.InitializeCheckoutController()
	controllers.InitializeWebhookController()

	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Buyer-facing routes are rate limited; webhook routes are not, so
	// provider retry bursts are never dropped.
	v1 := api.Group("/v1", limiter.New(limiter.Config{Max: 30}))
	v1.Post("/checkout", controllers.HandleCreateCheckout)
	v1.Get("/payments/:id", controllers.HandleGetPaymentStatus)
	v1.Get("/couples/:slug", controllers.HandleGetCoupleBySlug)
	v1.Get("/partners/:code", controllers.HandleValidateReferralCode)

	webhooks := api.Group("/v1/webhooks")
	webhooks.Post("/stripe", controllers.HandleStripeWebhook)
	webhooks.Post("/mercadopago", controllers.HandleMercadoPagoWebhook)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
