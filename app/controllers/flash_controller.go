package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

// HandleCheckoutSuccess is the browser return target after a completed
// hosted checkout. The subscription itself arrives through the webhook; this
// only confirms to the user.
func HandleCheckoutSuccess(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type":    "success",
		"message": "Subscription activated. Your plan limits update within a moment.",
	}
	flash.WithSuccess(c, fm)
	return c.Redirect("/account/billing", fiber.StatusSeeOther)
}

// HandleCheckoutCancel is the browser return target when the user abandons
// the hosted checkout.
func HandleCheckoutCancel(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type":    "info",
		"message": "Checkout cancelled. Your current plan is unchanged.",
	}
	flash.WithInfo(c, fm)
	return c.Redirect("/account/billing", fiber.StatusSeeOther)
}
