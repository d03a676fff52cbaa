package dbx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRebind(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no placeholders", "SELECT 1", "SELECT 1"},
		{"sequential", "UPDATE a SET x = ?, y = ? WHERE id = ?", "UPDATE a SET x = $1, y = $2 WHERE id = $3"},
		{"quoted question mark kept", "SELECT '?' FROM a WHERE id = ?", "SELECT '?' FROM a WHERE id = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Postgres.Rebind(tt.in))
		})
	}
}

func TestSQLiteRebind_Identity(t *testing.T) {
	q := "SELECT * FROM a WHERE id = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"hosts"`, Postgres.QuoteIdent("hosts"))
	assert.Equal(t, `"we""ird"`, SQLite.QuoteIdent(`we"ird`))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Name())
	assert.Equal(t, "postgres", d.GooseDialect())

	d, err = DialectFor("SQLite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, "sqlite3", d.GooseDialect())

	_, err = DialectFor("oracle")
	require.Error(t, err)
}

func TestSyncIdentity(t *testing.T) {
	assert.Empty(t, SQLite.SyncIdentity("hosts"))
	assert.Equal(t,
		`SELECT setval(pg_get_serial_sequence('"hosts"', 'id'), COALESCE((SELECT MAX(id) FROM "hosts"), 0) + 1, false)`,
		Postgres.SyncIdentity("hosts"))
}

func TestForeignKeyStatements(t *testing.T) {
	assert.Equal(t, "SET CONSTRAINTS ALL DEFERRED", Postgres.DeferForeignKeys())
	assert.Equal(t, "SET CONSTRAINTS ALL IMMEDIATE", Postgres.CheckForeignKeys())
	assert.Equal(t, "PRAGMA defer_foreign_keys = ON", SQLite.DeferForeignKeys())
	assert.Equal(t, "PRAGMA foreign_key_check", SQLite.CheckForeignKeys())
}
