package database

import (
	"fmt"
	"sort"
	"time"

	"battery_dashboard_etl/config"
	"battery_dashboard_etl/logger"
	"battery_dashboard_etl/models"

	"gorm.io/gorm"
)

// Migration represents an applied schema step
type Migration struct {
	ID          uint   `gorm:"primaryKey"`
	Version     string `gorm:"unique;not null"`
	Name        string `gorm:"not null"`
	Applied     bool   `gorm:"default:false"`
	AppliedAt   *time.Time
	Description string
}

// SchemaStep is one versioned change to the schema
type SchemaStep struct {
	Version     string
	Name        string
	Description string
	Apply       func(tx *gorm.DB) error
	Applied     bool
}

// Steps lists the schema history, oldest first
func Steps() []SchemaStep {
	return []SchemaStep{
		{
			Version:     "20251107_102936",
			Name:        "create modelo",
			Description: "device model slots with optional mac_address",
			Apply: func(tx *gorm.DB) error {
				return tx.AutoMigrate(models.GetAllModels()...)
			},
		},
	}
}

// MigrationRunner handles database migrations
type MigrationRunner struct {
	db             *gorm.DB
	migrationTable string
	steps          []SchemaStep
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *gorm.DB, cfg *config.Config) *MigrationRunner {
	steps := Steps()
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Version < steps[j].Version
	})
	return &MigrationRunner{
		db:             db,
		migrationTable: cfg.Migration.MigrationTable,
		steps:          steps,
	}
}

func (mr *MigrationRunner) table(tx *gorm.DB) *gorm.DB {
	return tx.Table(mr.migrationTable)
}

// InitializeMigrationTable creates the migration table if it doesn't exist
func (mr *MigrationRunner) InitializeMigrationTable() error {
	return mr.table(mr.db).AutoMigrate(&Migration{})
}

// GetAppliedMigrations returns all applied migrations from the database
func (mr *MigrationRunner) GetAppliedMigrations() ([]Migration, error) {
	if err := mr.InitializeMigrationTable(); err != nil {
		return nil, fmt.Errorf("failed to initialize migration table: %w", err)
	}

	var migrations []Migration
	result := mr.table(mr.db).Where("applied = ?", true).Order("version ASC").Find(&migrations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", result.Error)
	}

	return migrations, nil
}

// GetMigrationStatus returns every known step with its applied flag set
func (mr *MigrationRunner) GetMigrationStatus() ([]SchemaStep, error) {
	applied, err := mr.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	appliedVersions := make(map[string]bool, len(applied))
	for _, migration := range applied {
		appliedVersions[migration.Version] = true
	}

	status := make([]SchemaStep, len(mr.steps))
	copy(status, mr.steps)
	for i := range status {
		status[i].Applied = appliedVersions[status[i].Version]
	}
	return status, nil
}

// RunMigrations executes all pending steps
func (mr *MigrationRunner) RunMigrations() error {
	status, err := mr.GetMigrationStatus()
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	var pending []SchemaStep
	for _, step := range status {
		if !step.Applied {
			pending = append(pending, step)
		}
	}

	if len(pending) == 0 {
		logger.Println("No pending migrations to run")
		return nil
	}

	logger.Printf("Running %d pending migration(s)...\n", len(pending))

	for _, step := range pending {
		if err := mr.runSingleMigration(step); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", step.Version, err)
		}
	}

	logger.Println("All migrations completed successfully")
	return nil
}

// runSingleMigration applies a step and records it in one transaction
func (mr *MigrationRunner) runSingleMigration(step SchemaStep) error {
	logger.Printf("Running migration: %s - %s\n", step.Version, step.Name)

	return mr.db.Transaction(func(tx *gorm.DB) error {
		if err := step.Apply(tx); err != nil {
			return fmt.Errorf("failed to apply schema step: %w", err)
		}

		now := time.Now()
		migration := Migration{
			Version:     step.Version,
			Name:        step.Name,
			Applied:     true,
			AppliedAt:   &now,
			Description: step.Description,
		}

		if err := mr.table(tx).Create(&migration).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		return nil
	})
}
