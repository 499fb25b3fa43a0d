package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/liverylab/paintrig/backend/internal/scheme"
)

const migrationBackfillEmptyDocuments = "2026-07-28_backfill_empty_documents"

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
		{name: migrationBackfillEmptyDocuments, apply: backfillEmptyDocuments},
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

// backfillEmptyDocuments normalizes rows created before the documents gained
// a NOT NULL default, so merge reads always decode.
func backfillEmptyDocuments(db *gorm.DB) error {
	if err := db.Model(&scheme.Scheme{}).
		Where("guide_data IS NULL OR guide_data = ''").
		Update("guide_data", "{}").Error; err != nil {
		return err
	}
	return db.Model(&scheme.Layer{}).
		Where("layer_data IS NULL OR layer_data = ''").
		Update("layer_data", "{}").Error
}
