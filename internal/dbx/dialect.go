package dbx

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the few SQL differences between the supported engines.
// Repositories write queries with '?' placeholders and call Rebind.
type Dialect interface {
	// Name is the driver name passed to sql.Open.
	Name() string
	// GooseDialect is the dialect name understood by goose.
	GooseDialect() string
	// Rebind converts '?' placeholders into the engine's native form.
	Rebind(query string) string
	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string
	// DeferForeignKeys returns the statement that postpones FK checks to
	// commit time for the current transaction.
	DeferForeignKeys() string
	// CheckForeignKeys returns a statement that fails, or yields rows, when
	// the deferred checks of the current transaction would fail at commit.
	CheckForeignKeys() string
	// SyncIdentity returns the statement that moves table's id generator
	// past rows inserted with explicit ids, or "" when none is needed.
	SyncIdentity(table string) string
}

type postgresDialect struct{}

func (postgresDialect) Name() string         { return "pgx" }
func (postgresDialect) GooseDialect() string { return "postgres" }

func (postgresDialect) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (postgresDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgresDialect) DeferForeignKeys() string { return "SET CONSTRAINTS ALL DEFERRED" }

func (postgresDialect) CheckForeignKeys() string { return "SET CONSTRAINTS ALL IMMEDIATE" }

func (d postgresDialect) SyncIdentity(table string) string {
	q := d.QuoteIdent(table)
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)",
		strings.ReplaceAll(q, "'", "''"), q)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                  { return "sqlite" }
func (sqliteDialect) GooseDialect() string          { return "sqlite3" }
func (sqliteDialect) Rebind(query string) string    { return query }
func (sqliteDialect) DeferForeignKeys() string      { return "PRAGMA defer_foreign_keys = ON" }
func (sqliteDialect) CheckForeignKeys() string      { return "PRAGMA foreign_key_check" }
func (sqliteDialect) SyncIdentity(string) string    { return "" }
func (sqliteDialect) QuoteIdent(name string) string { return postgresDialect{}.QuoteIdent(name) }

var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

// DialectFor maps a configured driver name to its Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
