package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsTable = "checkout_schema_migrations"

type Migrator struct {
	db *sql.DB
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

func (m *Migrator) instance() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("could not create migration driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("could not create migrate instance: %w", err)
	}
	return mg, nil
}

// RunMigrations applies every pending migration
func (m *Migrator) RunMigrations() error {
	mg, err := m.instance()
	if err != nil {
		return err
	}
	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	version, dirty, _ := mg.Version()
	log.Printf("Database schema at version %d (dirty=%t)", version, dirty)
	return nil
}

// Rollback reverts the given number of migrations
func (m *Migrator) Rollback(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0")
	}
	mg, err := m.instance()
	if err != nil {
		return err
	}
	if err := mg.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not roll back migrations: %w", err)
	}
	return nil
}

// GetMigrationStatus prints the current schema version
func (m *Migrator) GetMigrationStatus() error {
	mg, err := m.instance()
	if err != nil {
		return err
	}
	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("No migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Printf("Schema version: %d\n", version)
	if dirty {
		fmt.Println("WARNING: schema is dirty, the last migration failed part way")
	}
	return nil
}
