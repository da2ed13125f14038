package ledger

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations applies the migration ledger. Migrations are additive only:
// new tables and new columns, never destructive changes to existing ones.
// gormigrate records applied IDs in its own table, so the sequence doubles
// as the schema version history.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Ingestion core (sessions, items, flow events)
		{
			ID: "001_ingestion_core",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Session{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Item{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&FlowEvent{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sessions", "items", "flow_events")
			},
		},

		// Migration 002: Knowledge tables (entities, patterns)
		{
			ID: "002_knowledge",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Entity{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Pattern{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("entities", "patterns")
			},
		},

		// Migration 003: Prediction tables
		{
			ID: "003_prediction",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&PredictionModel{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&PredictionRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("prediction_models", "prediction_records")
			},
		},

		// Migration 004: Missing-store tracking for partial completions
		{
			ID: "004_item_missing_stores",
			Migrate: func(tx *gorm.DB) error {
				// Additive column; AutoMigrate only adds, never drops.
				return tx.AutoMigrate(&Item{})
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}
	return nil
}
