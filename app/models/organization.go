package models

import (
	"errors"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSlug is returned for slugs failing the strict charset check.
var ErrInvalidSlug = errors.New("invalid organization slug")

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusFree       = "free"
)

// slugPattern is the strict charset for organization slugs: lowercase
// alphanumeric start, then alphanumerics, underscore or dash, 2-63 chars total.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)

// Organization is the tenant record. Stripe owns the customer/subscription
// references and the billing status as ground truth; the columns here are a
// low-latency mirror kept in sync by the billing service.
type Organization struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Slug                 string     `gorm:"type:varchar(63);uniqueIndex;not null" json:"slug"`
	StripeCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);default:''" json:"-"`
	PlanID               string     `gorm:"type:varchar(100);not null;default:'free';index" json:"plan_id"`
	PriceID              string     `gorm:"type:varchar(191);default:''" json:"-"`
	BillingStatus        string     `gorm:"type:varchar(32);not null;default:'free';index" json:"billing_status"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEndsAt          *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`

	// Derived usage limits, sourced from Stripe product metadata on every
	// plan change or resync. Consumed by the pipeline gate and mirrored to
	// the backend limits service.
	SeatLimit           int `gorm:"not null;default:3" json:"seat_limit"`
	ProviderLimit       int `gorm:"not null;default:2" json:"provider_limit"`
	PipelinesPerDay     int `gorm:"not null;default:10" json:"pipelines_per_day"`
	PipelinesPerWeek    int `gorm:"not null;default:70" json:"pipelines_per_week"`
	PipelinesPerMonth   int `gorm:"not null;default:300" json:"pipelines_per_month"`
	ConcurrentPipelines int `gorm:"not null;default:1" json:"concurrent_pipelines"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Members []OrganizationMember `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}

func (o *Organization) Validate() error {
	if !IsValidOrgSlug(o.Slug) {
		return ErrInvalidSlug
	}
	v := validator.New()
	return v.Struct(o)
}

// IsValidOrgSlug reports whether s matches the strict slug charset. Slugs are
// immutable after creation and appear in URLs and limits-service payloads, so
// everything else is rejected before any external call.
func IsValidOrgSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// HasActiveSubscription reports whether the org carries a subscription
// reference that is not in a terminal state.
func (o *Organization) HasActiveSubscription() bool {
	if o.StripeSubscriptionID == "" {
		return false
	}
	switch o.BillingStatus {
	case BillingStatusActive, BillingStatusTrialing, BillingStatusPastDue:
		return true
	default:
		return false
	}
}
