package repository

import (
	"sync"

	"github.com/CostLensHQ/CostLens/internal/pkg/database"
	"gorm.io/gorm"
)

// Factory hands out repositories bound to one DB handle.
type Factory struct {
	db *gorm.DB

	userOnce sync.Once
	user     UserRepository

	orgOnce sync.Once
	org     OrganizationRepository
}

var (
	globalFactory     *Factory
	globalFactoryOnce sync.Once
)

// GetGlobalFactory returns the process-wide factory bound to the default DB.
func GetGlobalFactory() *Factory {
	globalFactoryOnce.Do(func() {
		globalFactory = NewFactory(database.GetDB())
	})
	return globalFactory
}

// NewFactory creates a factory for the given DB handle (tests inject their
// own).
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

func (f *Factory) GetUserRepository() UserRepository {
	f.userOnce.Do(func() {
		f.user = NewUserRepository(f.db)
	})
	return f.user
}

func (f *Factory) GetOrganizationRepository() OrganizationRepository {
	f.orgOnce.Do(func() {
		f.org = NewOrganizationRepository(f.db)
	})
	return f.org
}
