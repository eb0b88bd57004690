package db

import (
	"fmt"

	"github.com/zulandar/muster/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the gorm models persisted by the journal.
func AllModels() []interface{} {
	return []interface{}{
		&models.SessionEvent{},
	}
}

// AutoMigrate creates or updates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
