package models

import (
	"fmt"
	"time"
)

// SyncStatus is the downstream synchronization state of a plan change.
// Transitions are pending→synced, pending→failed and pending→pending
// (queued retry); anything else is rejected by CanTransitionTo.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	if s != SyncStatusPending {
		return false
	}
	switch next {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed:
		return true
	default:
		return false
	}
}

const (
	PlanChangeActionUpgrade   = "upgrade"
	PlanChangeActionDowngrade = "downgrade"
)

// PlanChangeAudit is one row per plan-change attempt. Rows are created with
// sync status pending before the limits push runs and patched exactly once
// when the outcome is known. Rows are never deleted.
type PlanChangeAudit struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	OrganizationID       uint       `gorm:"not null;index" json:"organization_id"`
	ActorUserID          uint       `gorm:"not null;index" json:"actor_user_id"`
	Action               string     `gorm:"type:varchar(20);not null" json:"action" validate:"oneof=upgrade downgrade"`
	OldPlanID            string     `gorm:"type:varchar(100);not null;default:''" json:"old_plan_id"`
	NewPlanID            string     `gorm:"type:varchar(100);not null" json:"new_plan_id"`
	OldUnitAmount        int64      `gorm:"not null;default:0" json:"old_unit_amount"`
	NewUnitAmount        int64      `gorm:"not null;default:0" json:"new_unit_amount"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);not null;default:''" json:"-"`
	SyncStatus           SyncStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"sync_status"`
	SyncError            string     `gorm:"type:text" json:"sync_error,omitempty"`
	MetadataJSON         string     `gorm:"type:longtext" json:"metadata_json,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PlanChangeAudit) TableName() string {
	return "plan_change_audits"
}

// ApplySyncOutcome patches the record with the sync result, enforcing the
// legal transition set.
func (a *PlanChangeAudit) ApplySyncOutcome(next SyncStatus, syncErr string) error {
	if !a.SyncStatus.CanTransitionTo(next) {
		return fmt.Errorf("illegal sync status transition %s -> %s", a.SyncStatus, next)
	}
	a.SyncStatus = next
	a.SyncError = syncErr
	return nil
}
