package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/tagrelay/tagrelay/internal/domain"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Event{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_events_status ON events (status)`,
					`CREATE INDEX IF NOT EXISTS idx_events_due ON events (status, next_attempt_at)`,
					`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Event{})
			},
		},
		{
			ID: "000002_create_delivery_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.DeliveryAttempt{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_event_id ON delivery_attempts (event_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.DeliveryAttempt{})
			},
		},
	})

	return m.Migrate()
}
