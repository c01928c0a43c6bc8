package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"orderq/internal/database"
)

//go:embed sql/*.sql
var files embed.FS

type Migrate struct {
	Db  *database.PostgreSQL
	Log *zap.Logger
}

func (m *Migrate) open() (*migrate.Migrate, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	mig, err := migrate.NewWithSourceInstance("iofs", src, m.Db.ConnectionURI())
	if err != nil {
		return nil, fmt.Errorf("failed to init migrate: %w", err)
	}
	return mig, nil
}

func (m *Migrate) logger() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

func (m *Migrate) MigrateUp() error {
	mig, err := m.open()
	if err != nil {
		return err
	}
	defer mig.Close()

	m.logVersion(mig, "begin migration up")
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	m.logVersion(mig, "migration up done")
	return nil
}

func (m *Migrate) MigrateDown() error {
	mig, err := m.open()
	if err != nil {
		return err
	}
	defer mig.Close()

	if err := mig.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	m.logVersion(mig, "migration down done")
	return nil
}

func (m *Migrate) logVersion(mig *migrate.Migrate, msg string) {
	version, dirty, err := mig.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		m.logger().Info(msg, zap.String("version", "none"))
		return
	}
	m.logger().Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
}
