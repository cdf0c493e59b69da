package repository

import (
	"github.com/CostLensHQ/CostLens/app/models"
)

// UserRepository provides account lookups for the controllers.
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Create(user *models.User) error
	UpdateLastLogin(id uint) error
}

// OrganizationRepository provides tenant and membership lookups outside the
// billing engine (which carries its own repository).
type OrganizationRepository interface {
	GetBySlug(slug string) (*models.Organization, error)
	Create(org *models.Organization, ownerUserID uint) error
	GetMembership(orgID, userID uint) (*models.OrganizationMember, error)
	CountActiveMembers(orgID uint) (int64, error)
	AddMember(member *models.OrganizationMember) error
}
