package backup

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/dmitrijs2005/rackvault/internal/testutil"
	"github.com/dmitrijs2005/rackvault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ events []audit.Event }

func (r *recorder) Record(_ context.Context, e audit.Event) { r.events = append(r.events, e) }

var tables = []string{"hosts", "credentials"}

func sqliteTables(db dbx.DBTX) *TableStore { return NewTableStore(db, dbx.SQLite) }

// unlockedSession initialises a vault on db and returns an unlocked session.
func unlockedSession(t *testing.T, db *sql.DB) *vault.Session {
	t.Helper()
	ctx := context.Background()
	acc, err := accounts.NewSQLRepository(db, dbx.SQLite).Create(ctx, &accounts.Account{Username: "alice", PasswordHash: "h", Role: accounts.RoleAdmin})
	require.NoError(t, err)

	repos := func(db dbx.DBTX) accounts.Repository { return accounts.NewSQLRepository(db, dbx.SQLite) }
	hasher := cryptox.NewPasswordHasher(cryptox.Argon2Params{Memory: 64, Time: 1, Threads: 1})
	vs := vault.NewService(db, repos, hasher, nil, logging.Discard())
	require.NoError(t, vs.Initialize(ctx, acc.ID, []byte("vault pass")))

	sess := vault.NewSession()
	require.NoError(t, vs.Unlock(ctx, sess, acc.ID, []byte("vault pass"), ""))
	return sess
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO hosts (id, name, address) VALUES (1, 'db-1', '10.0.0.5')`,
		`INSERT INTO hosts (id, name, address) VALUES (2, 'web-1', '10.0.0.6')`,
		`INSERT INTO credentials (id, host_id, kind, label, username, secret_enc) VALUES (1, 1, 'password', 'root', 'root', 'ENV1')`,
		`INSERT INTO credentials (id, host_id, kind, label, username, secret_enc) VALUES (2, 2, 'ssh_key', 'deploy', 'deploy', 'ENV2')`,
		`INSERT INTO credentials (id, host_id, kind, label, username, secret_enc) VALUES (3, 2, 'api_token', 'ci', '', 'ENV3')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestExportImport_Idempotent(t *testing.T) {
	ctx := context.Background()
	src := testutil.OpenSQLite(t)
	sess := unlockedSession(t, src)
	seed(t, src)

	rec := &recorder{}
	exporter := NewCodec(src, sqliteTables, tables, rec, logging.Discard())
	var buf bytes.Buffer
	require.NoError(t, exporter.Export(ctx, sess, &buf))
	blob := buf.Bytes()
	assert.NotContains(t, string(blob), "db-1")

	dst := testutil.OpenSQLite(t)
	importer := NewCodec(dst, sqliteTables, tables, rec, logging.Discard())

	res, err := importer.Import(ctx, sess, bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Imported: 5, Skipped: 0}, res)

	res, err = importer.Import(ctx, sess, bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Imported: 0, Skipped: 5}, res)

	assert.Equal(t, 2, count(t, dst, "hosts"))
	assert.Equal(t, 3, count(t, dst, "credentials"))

	var secret string
	require.NoError(t, dst.QueryRow("SELECT secret_enc FROM credentials WHERE id = 2").Scan(&secret))
	assert.Equal(t, "ENV2", secret)

	require.Len(t, rec.events, 3)
	assert.Equal(t, audit.BackupExport, rec.events[0].Action)
	assert.Equal(t, audit.BackupImport, rec.events[1].Action)
}

func TestMergeImport_LocalRowsWin(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t)
	seed(t, db)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	snap := &Snapshot{Version: FormatVersion, Tables: map[string][]Row{
		"hosts": {
			{"id": int64(1), "name": "renamed"},
			{"id": int64(3), "name": "cache-1", "address": "10.0.0.7"},
		},
	}}
	res, err := c.MergeImport(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Imported: 1, Skipped: 1}, res)

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM hosts WHERE id = 1").Scan(&name))
	assert.Equal(t, "db-1", name)
}

func TestMergeImport_ChildBeforeParentInFile(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	// map order is irrelevant; configured order puts hosts first and FK
	// checks are deferred anyway
	snap := &Snapshot{Version: FormatVersion, Tables: map[string][]Row{
		"credentials": {{"id": int64(9), "host_id": int64(7), "kind": "password", "secret_enc": "E"}},
		"hosts":       {{"id": int64(7), "name": "h7"}},
	}}
	res, err := c.MergeImport(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
}

func TestMergeImport_RollsBackOnDanglingReference(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	snap := &Snapshot{Version: FormatVersion, Tables: map[string][]Row{
		"hosts":       {{"id": int64(1), "name": "h1"}},
		"credentials": {{"id": int64(1), "host_id": int64(42), "kind": "password", "secret_enc": "E"}},
	}}
	_, err := c.MergeImport(ctx, snap)
	assert.ErrorIs(t, err, common.ErrImportTransactionFailed)

	assert.Equal(t, 0, count(t, db, "hosts"))
	assert.Equal(t, 0, count(t, db, "credentials"))
}

func TestMergeImport_UnknownColumn(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	snap := &Snapshot{Version: FormatVersion, Tables: map[string][]Row{
		"hosts": {
			{"id": int64(1), "name": "ok"},
			{"id": int64(2), "name": "bad", "password": "x"},
		},
	}}
	_, err := c.MergeImport(ctx, snap)
	assert.ErrorIs(t, err, common.ErrBackupFormatInvalid)
	assert.Equal(t, 0, count(t, db, "hosts"))
}

func TestMergeImport_MissingPrimaryKey(t *testing.T) {
	db := testutil.OpenSQLite(t)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	snap := &Snapshot{Version: FormatVersion, Tables: map[string][]Row{
		"hosts": {{"name": "anon"}},
	}}
	_, err := c.MergeImport(context.Background(), snap)
	assert.ErrorIs(t, err, common.ErrBackupFormatInvalid)
}

func TestMergeImport_IgnoresUnconfiguredTables(t *testing.T) {
	db := testutil.OpenSQLite(t)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	snap := &Snapshot{Version: FormatVersion, Tables: map[string][]Row{
		"accounts": {{"id": "x", "username": "eve"}},
	}}
	res, err := c.MergeImport(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{}, res)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = 'eve'").Scan(&n))
	assert.Zero(t, n)
}

func TestExportImport_RequireUnlockedVault(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenSQLite(t)
	sess := unlockedSession(t, db)
	c := NewCodec(db, sqliteTables, tables, nil, logging.Discard())

	var buf bytes.Buffer
	require.NoError(t, c.Export(ctx, sess, &buf))

	sess.Lock()
	assert.ErrorIs(t, c.Export(ctx, sess, &bytes.Buffer{}), common.ErrVaultLocked)
	_, err := c.Import(ctx, sess, bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, common.ErrVaultLocked)
}

func TestImport_OtherVaultKey(t *testing.T) {
	ctx := context.Background()
	src := testutil.OpenSQLite(t)
	seed(t, src)
	sessA := unlockedSession(t, src)

	var buf bytes.Buffer
	require.NoError(t, NewCodec(src, sqliteTables, tables, nil, logging.Discard()).Export(ctx, sessA, &buf))

	dst := testutil.OpenSQLite(t)
	sessB := unlockedSession(t, dst)
	rec := &recorder{}
	_, err := NewCodec(dst, sqliteTables, tables, rec, logging.Discard()).Import(ctx, sessB, &buf)
	assert.ErrorIs(t, err, common.ErrBackupDecryptionFailed)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.BackupImportFailed, rec.events[0].Action)
}

func TestSnapshot_TimestampsRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := testutil.OpenSQLite(t)
	at := time.Date(2025, 12, 24, 18, 30, 0, 0, time.UTC)
	_, err := src.Exec(`INSERT INTO hosts (id, name, created_at) VALUES (1, 'h', ?)`, at)
	require.NoError(t, err)

	c := NewCodec(src, sqliteTables, tables, nil, logging.Discard())
	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tables["hosts"], 1)
	assert.Equal(t, "2025-12-24T18:30:00Z", snap.Tables["hosts"][0]["created_at"])

	dst := testutil.OpenSQLite(t)
	key := cryptox.GenerateKey()
	blob, err := Encode(snap, key)
	require.NoError(t, err)
	decoded, err := Decode(blob, key)
	require.NoError(t, err)

	_, err = NewCodec(dst, sqliteTables, tables, nil, logging.Discard()).MergeImport(ctx, decoded)
	require.NoError(t, err)

	var got time.Time
	require.NoError(t, dst.QueryRow(`SELECT created_at FROM hosts WHERE id = 1`).Scan(&got))
	assert.True(t, at.Equal(got))
}
