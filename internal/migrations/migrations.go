// Package migrations embeds the goose schema migrations for each supported
// database engine and applies them.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func dirFor(d dbx.Dialect) string {
	if d.GooseDialect() == dbx.SQLite.GooseDialect() {
		return "sqlite"
	}
	return "postgres"
}

// Up applies all pending migrations for dialect d. goose output goes to
// log; a nil log silences it.
func Up(ctx context.Context, db *sql.DB, d dbx.Dialect, log logging.Logger) error {
	goose.SetBaseFS(Migrations)
	goose.SetLogger(newGooseLogger(ctx, log))
	defer func() {
		goose.SetBaseFS(nil)
		goose.SetLogger(goose.NopLogger())
	}()

	if err := goose.SetDialect(d.GooseDialect()); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, dirFor(d)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
