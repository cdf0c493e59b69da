package billing

import (
	"errors"
	"time"

	"github.com/CostLensHQ/CostLens/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the Primary Datastore operations used by the billing
// engine.
type Repository interface {
	GetOrganizationBySlug(slug string) (*models.Organization, error)
	GetOrganizationByCustomerID(customerID string) (*models.Organization, error)
	UpdateOrganizationBilling(org *models.Organization) error
	CountActiveMembers(orgID uint) (int64, error)
	GetMemberRole(orgID, userID uint) (string, error)
	IsSoleOwner(orgID, userID uint) (bool, error)
	CreatePlanChangeAudit(a *models.PlanChangeAudit) error
	UpdateAuditSyncStatus(id uint, status models.SyncStatus, syncErr string) error
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrganizationBySlug(slug string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.Where("slug = ?", slug).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (r *gormRepository) GetOrganizationByCustomerID(customerID string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	return &org, nil
}

// UpdateOrganizationBilling writes the billing mirror columns only; name,
// slug and membership stay untouched.
func (r *gormRepository) UpdateOrganizationBilling(org *models.Organization) error {
	return r.db.Model(&models.Organization{}).
		Where("id = ?", org.ID).
		Updates(map[string]interface{}{
			"stripe_customer_id":     org.StripeCustomerID,
			"stripe_subscription_id": org.StripeSubscriptionID,
			"plan_id":                org.PlanID,
			"price_id":               org.PriceID,
			"billing_status":         org.BillingStatus,
			"current_period_start":   org.CurrentPeriodStart,
			"current_period_end":     org.CurrentPeriodEnd,
			"trial_ends_at":          org.TrialEndsAt,
			"seat_limit":             org.SeatLimit,
			"provider_limit":         org.ProviderLimit,
			"pipelines_per_day":      org.PipelinesPerDay,
			"pipelines_per_week":     org.PipelinesPerWeek,
			"pipelines_per_month":    org.PipelinesPerMonth,
			"concurrent_pipelines":   org.ConcurrentPipelines,
		}).Error
}

func (r *gormRepository) CountActiveMembers(orgID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND status = ?", orgID, models.MemberStatusActive).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) GetMemberRole(orgID, userID uint) (string, error) {
	var m models.OrganizationMember
	err := r.db.Where("organization_id = ? AND user_id = ? AND status = ?",
		orgID, userID, models.MemberStatusActive).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotOwner
		}
		return "", err
	}
	return m.Role, nil
}

// IsSoleOwner reports whether userID holds the only active owner seat of the
// organization. Checkout and plan changes are restricted to the sole billing
// owner.
func (r *gormRepository) IsSoleOwner(orgID, userID uint) (bool, error) {
	role, err := r.GetMemberRole(orgID, userID)
	if err != nil {
		return false, err
	}
	if role != models.OrgRoleOwner {
		return false, nil
	}

	var owners int64
	err = r.db.Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND role = ? AND status = ?",
			orgID, models.OrgRoleOwner, models.MemberStatusActive).
		Count(&owners).Error
	if err != nil {
		return false, err
	}
	return owners == 1, nil
}

func (r *gormRepository) CreatePlanChangeAudit(a *models.PlanChangeAudit) error {
	return r.db.Create(a).Error
}

// UpdateAuditSyncStatus patches the audit row exactly once, enforcing the
// legal pending→{synced,failed,pending} transitions.
func (r *gormRepository) UpdateAuditSyncStatus(id uint, status models.SyncStatus, syncErr string) error {
	var a models.PlanChangeAudit
	if err := r.db.First(&a, id).Error; err != nil {
		return err
	}
	if err := a.ApplySyncOutcome(status, syncErr); err != nil {
		return err
	}
	return r.db.Model(&models.PlanChangeAudit{}).Where("id = ?", id).Updates(map[string]interface{}{
		"sync_status": a.SyncStatus,
		"sync_error":  a.SyncError,
	}).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
