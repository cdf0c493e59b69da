package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/CostLensHQ/CostLens/app/models"
	"github.com/CostLensHQ/CostLens/internal/pkg/billing"
	"github.com/CostLensHQ/CostLens/internal/pkg/database"
	"github.com/CostLensHQ/CostLens/internal/pkg/env"
	"github.com/CostLensHQ/CostLens/internal/pkg/usercontext"
)

const billingRequestTimeout = 45 * time.Second

type checkoutRequest struct {
	OrgSlug string `json:"org_slug"`
	PriceID string `json:"price_id"`
}

type planChangeRequest struct {
	OrgSlug string `json:"org_slug"`
	PriceID string `json:"price_id"`
}

type resyncRequest struct {
	OrgSlug string `json:"org_slug"`
}

// HandleCreateOnboardingCheckout starts a checkout for a user without an
// organization yet.
func HandleCreateOnboardingCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := svc.CreateOnboardingCheckout(ctx, userCtx.UserID, userCtx.Email, req.PriceID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(res)
}

// HandleCreateCheckoutSession starts an upgrade-to-paid checkout for an
// existing organization.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := svc.CreateCheckoutSession(ctx, userCtx.UserID, req.OrgSlug, req.PriceID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(res)
}

// HandleChangeSubscriptionPlan switches the organization's subscription to a
// new price with proration.
func HandleChangeSubscriptionPlan(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req planChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := svc.ChangePlan(ctx, req.OrgSlug, req.PriceID, userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(res)
}

// HandleResyncBilling reconciles the datastore and limits service with the
// payment processor's current view of the organization.
func HandleResyncBilling(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req resyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := svc.Resync(ctx, req.OrgSlug, userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}
	return c.JSON(res)
}

// HandleListInvoices returns recent invoices for the organization's billing
// account.
func HandleListInvoices(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	invoices, err := svc.ListInvoices(ctx, c.Query("org"), userCtx.UserID, int64(c.QueryInt("limit", 12)))
	if err != nil {
		return billingErrorResponse(c, err)
	}

	out := make([]fiber.Map, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, fiber.Map{
			"id":          inv.ID,
			"number":      inv.Number,
			"status":      string(inv.Status),
			"amount_due":  inv.AmountDue,
			"amount_paid": inv.AmountPaid,
			"currency":    string(inv.Currency),
			"created":     inv.Created,
			"pdf_url":     inv.InvoicePDF,
		})
	}
	return c.JSON(fiber.Map{"invoices": out})
}

// HandleListPaymentMethods returns the organization's stored cards. Owner only.
func HandleListPaymentMethods(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	methods, err := svc.ListPaymentMethods(ctx, c.Query("org"), userCtx.UserID)
	if err != nil {
		return billingErrorResponse(c, err)
	}

	out := make([]fiber.Map, 0, len(methods))
	for _, pm := range methods {
		entry := fiber.Map{"id": pm.ID, "type": string(pm.Type)}
		if pm.Card != nil {
			entry["brand"] = string(pm.Card.Brand)
			entry["last4"] = pm.Card.Last4
			entry["exp_month"] = pm.Card.ExpMonth
			entry["exp_year"] = pm.Card.ExpYear
		}
		out = append(out, entry)
	}
	return c.JSON(fiber.Map{"payment_methods": out})
}

// HandleStripeWebhook verifies the event signature and applies it to the
// billing mirror. Returns 200 for events that were recorded, including
// duplicates and unknown customers; Stripe retries anything else.
func HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.BodyRaw()...)
	sigHeader := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	if err := svc.ProcessWebhookEvent(ctx, &event); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// billingErrorResponse maps the billing error taxonomy onto HTTP statuses
// without leaking internals past the boundary.
func billingErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidSlug), errors.Is(err, billing.ErrInvalidPriceID):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, billing.ErrOrgNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, billing.ErrNotOwner):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, billing.ErrNoSubscription), errors.Is(err, billing.ErrSubscriptionExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, billing.ErrRateLimited):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.Is(err, billing.ErrPlanConfig):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"success": false, "error": err.Error()})
	case strings.Contains(err.Error(), "Cannot downgrade"):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "error": "Payment processor error, please try again"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Internal error"})
}
