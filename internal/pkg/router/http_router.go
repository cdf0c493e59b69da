package router

import (
	"github.com/CostLensHQ/CostLens/app/controllers"
	"github.com/CostLensHQ/CostLens/internal/pkg/middleware"
	"github.com/CostLensHQ/CostLens/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Payment processor webhooks: signature-verified in the handler, no
	// session auth.
	app.Post("/webhooks/stripe", controllers.HandleStripeWebhook)

	// Browser return targets after hosted checkout.
	billingPages := app.Group("/account/billing", middleware.RequireAuth)
	billingPages.Get("/success", controllers.HandleCheckoutSuccess)
	billingPages.Get("/cancel", controllers.HandleCheckoutCancel)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
