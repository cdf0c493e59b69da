package router

import (
	"github.com/CostLensHQ/CostLens/app/controllers"
	"github.com/CostLensHQ/CostLens/internal/pkg/constants"
	"github.com/CostLensHQ/CostLens/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
}

func (r ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIPrefix)

	// session endpoints
	api.Post("/auth/register", controllers.HandleRegister)
	api.Post("/auth/login", controllers.HandleLogin)
	api.Post("/auth/logout", controllers.HandleLogout)
	api.Get("/auth/me", controllers.HandleMe)

	// organizations
	orgs := api.Group("/orgs", middleware.RequireAPISessionAuth)
	orgs.Post("/", controllers.HandleCreateOrganization)
	orgs.Get("/:slug", controllers.HandleGetOrganization)
	orgs.Post("/:slug/members", controllers.HandleAddOrganizationMember)

	// billing engine
	billing := api.Group(constants.BillingRoute, middleware.RequireAPISessionAuth)
	billing.Post("/checkout/onboarding", controllers.HandleCreateOnboardingCheckout)
	billing.Post("/checkout", controllers.HandleCreateCheckoutSession)
	billing.Post("/plan", controllers.HandleChangeSubscriptionPlan)
	billing.Post("/resync", controllers.HandleResyncBilling)
	billing.Get("/invoices", controllers.HandleListInvoices)
	billing.Get("/payment-methods", controllers.HandleListPaymentMethods)

	// pipeline engine glue
	pipelines := api.Group("/pipelines", middleware.RequireAPISessionAuth)
	pipelines.Post("/trigger", controllers.HandleTriggerPipeline)
	pipelines.Get("/runs/:id", controllers.HandlePipelineStatus)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
