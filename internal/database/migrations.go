package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/perchmarket/perch/backend/internal/products"
)

const migrationSeedStarterCatalog = "2026-08-10_seed_starter_catalog"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedStarterCatalog, apply: seedStarterCatalog},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedStarterCatalog inserts a minimal catalog so a fresh deployment has
// something to sell. Skipped when products already exist.
func seedStarterCatalog(db *gorm.DB) error {
	var count int64
	if err := db.Model(&products.Product{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	starter := []struct {
		name        string
		description string
		priceCents  int64
	}{
		{"Walnut Desk Organizer", "Solid walnut tray with three compartments.", 4500},
		{"Ceramic Pour-Over Set", "Hand-glazed dripper with matching carafe.", 6200},
		{"Linen Tote", "Heavyweight linen tote with leather handles.", 3800},
	}

	for _, item := range starter {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		product := products.Product{
			ID:          id.String(),
			Name:        item.name,
			Description: item.description,
			PriceCents:  item.priceCents,
		}
		if err := db.Create(&product).Error; err != nil {
			return err
		}
	}
	return nil
}
