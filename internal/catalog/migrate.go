package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration represents a single schema migration.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
}

// MigrationRecord tracks applied migrations in the database.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// migrations returns all catalog migrations in order.
//   - 001: threads and items
//   - 002: composite index for ordered feed reads
func migrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Create threads and items tables",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Thread{}, &Item{})
			},
		},
		{
			Version:     "002",
			Description: "Index items by thread and position",
			Up: func(tx *gorm.DB) error {
				if tx.Migrator().HasIndex(&Item{}, "idx_items_thread_position") {
					return nil
				}
				return tx.Migrator().CreateIndex(&Item{}, "idx_items_thread_position")
			},
		},
	}
}

// migrate applies pending migrations, each in its own transaction.
func migrate(ctx context.Context, db *gorm.DB, logger *slog.Logger) (int, error) {
	if err := db.WithContext(ctx).AutoMigrate(&MigrationRecord{}); err != nil {
		return 0, fmt.Errorf("initializing migrations table: %w", err)
	}

	var records []MigrationRecord
	if err := db.WithContext(ctx).Find(&records).Error; err != nil {
		return 0, fmt.Errorf("reading applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Version] = true
	}

	pending := migrations()
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	count := 0
	for _, m := range pending {
		if applied[m.Version] {
			continue
		}
		logger.InfoContext(ctx, "applying migration",
			slog.String("version", m.Version),
			slog.String("description", m.Description))

		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     m.Version,
				Description: m.Description,
				AppliedAt:   time.Now(),
			}).Error
		})
		if err != nil {
			return count, fmt.Errorf("applying migration %s: %w", m.Version, err)
		}
		count++
	}
	return count, nil
}
