package constants

// Static route constants
const (
	APIPrefix     = "/api/v1"
	BillingRoute  = "/billing"
	WebhooksRoute = "/webhooks"
	PublicRoute   = "/"
)
