package models

import "time"

const (
	OrgRoleOwner  = "owner"
	OrgRoleAdmin  = "admin"
	OrgRoleMember = "member"

	MemberStatusActive  = "active"
	MemberStatusInvited = "invited"
	MemberStatusRemoved = "removed"
)

// OrganizationMember links a user to an organization with a role. Seat-limit
// eligibility checks count rows with status active.
type OrganizationMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index:ux_org_members_org_user,unique,priority:1" json:"organization_id"`
	UserID         uint      `gorm:"not null;index:ux_org_members_org_user,unique,priority:2;index" json:"user_id"`
	Role           string    `gorm:"type:varchar(20);not null;default:'member'" json:"role" validate:"oneof=owner admin member"`
	Status         string    `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active invited removed"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OrganizationMember) TableName() string {
	return "organization_members"
}

// IsOwner reports whether the membership is an active owner seat.
func (m *OrganizationMember) IsOwner() bool {
	return m.Role == OrgRoleOwner && m.Status == MemberStatusActive
}
