package auth

import (
	"context"
	"embed"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package, one
// directory per dialect
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// DialectMigrations returns the migrations for the database dialect
func DialectMigrations(db *bun.DB) (*migrate.Migrations, error) {
	dir := "data/sql/migrations/sqlite"
	if db.Dialect().Name() == dialect.PG {
		dir = "data/sql/migrations/postgres"
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}
	return migrations, nil
}

// Migrate applies every pending migration and returns how many ran
func Migrate(ctx context.Context, db *bun.DB, logger Logger) (int, error) {
	logger = normalizeLogger(logger)

	migrations, err := DialectMigrations(db)
	if err != nil {
		return 0, err
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to init migrations")
	}

	if err := migrator.Lock(ctx); err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to lock migrations")
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.Error("failed to unlock migrations", "error", err)
		}
	}()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations")
	}

	if group.IsZero() {
		logger.Debug("database schema is up to date")
		return 0, nil
	}

	logger.Info("applied migrations", "group", group.ID, "count", len(group.Migrations))
	return len(group.Migrations), nil
}
