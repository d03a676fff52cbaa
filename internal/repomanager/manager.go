// Package repomanager opens the configured database, applies the embedded
// goose migrations and vends repositories bound to either the pool or a
// transaction.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/backup"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/devicetrust"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/dmitrijs2005/rackvault/internal/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// RepositoryManager vends repositories for one database.
type RepositoryManager interface {
	DB() *sql.DB
	Dialect() dbx.Dialect
	RunMigrations(ctx context.Context, log logging.Logger) error
	Accounts(db dbx.DBTX) accounts.Repository
	DeviceTokens(db dbx.DBTX) devicetrust.Repository
	Audit(db dbx.DBTX) audit.Repository
	Tables(db dbx.DBTX) *backup.TableStore
	Close() error
}

// SQLRepositoryManager is the database/sql implementation for Postgres
// (pgx) and SQLite (modernc).
type SQLRepositoryManager struct {
	db *sql.DB
	d  dbx.Dialect
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open connects to dsn with the named driver. SQLite connections get
// foreign keys enabled and a single pooled connection so in-memory
// databases stay shared.
func Open(ctx context.Context, driver, dsn string) (*SQLRepositoryManager, error) {
	d, err := dbx.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d == dbx.SQLite {
		dsn = withSQLitePragmas(dsn)
	}

	db, err := sqlOpen(d.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if d == dbx.SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return New(db, d), nil
}

// withSQLitePragmas appends the foreign_keys and busy_timeout pragmas
// unless the DSN already sets them.
func withSQLitePragmas(dsn string) string {
	var add []string
	if !strings.Contains(dsn, "foreign_keys") {
		add = append(add, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		add = append(add, "_pragma=busy_timeout(5000)")
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}

// New wraps an already opened database.
func New(db *sql.DB, d dbx.Dialect) *SQLRepositoryManager {
	return &SQLRepositoryManager{db: db, d: d}
}

func (m *SQLRepositoryManager) DB() *sql.DB          { return m.db }
func (m *SQLRepositoryManager) Dialect() dbx.Dialect { return m.d }

// RunMigrations applies the embedded migrations for the manager's dialect,
// reporting progress to log.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, log logging.Logger) error {
	return migrations.Up(ctx, m.db, m.d, log)
}

// Accounts returns an accounts.Repository bound to db.
func (m *SQLRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewSQLRepository(db, m.d)
}

// DeviceTokens returns a devicetrust.Repository bound to db.
func (m *SQLRepositoryManager) DeviceTokens(db dbx.DBTX) devicetrust.Repository {
	return devicetrust.NewSQLRepository(db, m.d)
}

// Audit returns an audit.Repository bound to db.
func (m *SQLRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewSQLRepository(db, m.d)
}

// Tables returns the generic table store used by backups.
func (m *SQLRepositoryManager) Tables(db dbx.DBTX) *backup.TableStore {
	return backup.NewTableStore(db, m.d)
}

func (m *SQLRepositoryManager) Close() error {
	return m.db.Close()
}
