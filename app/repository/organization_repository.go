package repository

import (
	"github.com/CostLensHQ/CostLens/app/models"
	"gorm.io/gorm"
)

type organizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository creates a GORM-backed organization repository.
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) GetBySlug(slug string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.Where("slug = ?", slug).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// Create inserts the org and its owning membership in one transaction.
func (r *organizationRepository) Create(org *models.Organization, ownerUserID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		member := models.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         ownerUserID,
			Role:           models.OrgRoleOwner,
			Status:         models.MemberStatusActive,
		}
		return tx.Create(&member).Error
	})
}

func (r *organizationRepository) GetMembership(orgID, userID uint) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	err := r.db.Where("organization_id = ? AND user_id = ? AND status = ?",
		orgID, userID, models.MemberStatusActive).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *organizationRepository) CountActiveMembers(orgID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND status = ?", orgID, models.MemberStatusActive).
		Count(&count).Error
	return count, err
}

func (r *organizationRepository) AddMember(member *models.OrganizationMember) error {
	return r.db.Create(member).Error
}
