package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/dmitrijs2005/rackvault/internal/vault"
)

// ImportResult counts the rows of one merge.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Codec exports and merges the configured tables. Tables are listed
// parents first; imports insert in that order.
type Codec struct {
	db     *sql.DB
	tables TablesFactory
	names  []string
	audit  audit.Recorder
	log    logging.Logger
	now    func() time.Time
}

func NewCodec(db *sql.DB, tables TablesFactory, names []string, rec audit.Recorder, log logging.Logger) *Codec {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Codec{
		db:     db,
		tables: tables,
		names:  slices.Clone(names),
		audit:  rec,
		log:    log.With("component", "backup"),
		now:    time.Now,
	}
}

// Snapshot reads every configured table.
func (c *Codec) Snapshot(ctx context.Context) (*Snapshot, error) {
	store := c.tables(c.db)
	snap := &Snapshot{
		Version:    FormatVersion,
		ExportedAt: c.now().UTC(),
		Tables:     make(map[string][]Row, len(c.names)),
	}
	for _, name := range c.names {
		rows, err := store.Rows(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		snap.Tables[name] = rows
	}
	return snap, nil
}

// Export writes an encrypted backup of the configured tables to w. The
// session must be unlocked.
func (c *Codec) Export(ctx context.Context, sess *vault.Session, w io.Writer) error {
	if !sess.IsUnlocked() {
		return common.ErrVaultLocked
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}

	var blob []byte
	err = sess.WithKey(func(key []byte) error {
		var err error
		blob, err = Encode(snap, key)
		return err
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	c.audit.Record(ctx, audit.Event{
		AccountID: sess.AccountID(),
		Action:    audit.BackupExport,
		Detail:    fmt.Sprintf("%d rows", snap.RowCount()),
	})
	return nil
}

// Import decrypts a backup read from r with the session's key and merges
// it. The session must be unlocked.
func (c *Codec) Import(ctx context.Context, sess *vault.Session, r io.Reader) (*ImportResult, error) {
	if !sess.IsUnlocked() {
		return nil, common.ErrVaultLocked
	}

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}

	var snap *Snapshot
	err = sess.WithKey(func(key []byte) error {
		var err error
		snap, err = Decode(blob, key)
		return err
	})
	if err != nil {
		c.audit.Record(ctx, audit.Event{AccountID: sess.AccountID(), Action: audit.BackupImportFailed, Detail: err.Error()})
		return nil, err
	}

	res, err := c.MergeImport(ctx, snap)
	if err != nil {
		c.audit.Record(ctx, audit.Event{AccountID: sess.AccountID(), Action: audit.BackupImportFailed, Detail: err.Error()})
		return nil, err
	}

	c.audit.Record(ctx, audit.Event{
		AccountID: sess.AccountID(),
		Action:    audit.BackupImport,
		Detail:    fmt.Sprintf("imported %d, skipped %d", res.Imported, res.Skipped),
	})
	return res, nil
}

// MergeImport inserts every row of snap whose primary key is not present
// yet. Existing rows are never updated. All tables are merged in one
// transaction with foreign-key checks deferred to commit; any failure rolls
// the whole import back. Tables that are not configured are ignored.
func (c *Codec) MergeImport(ctx context.Context, snap *Snapshot) (*ImportResult, error) {
	for name := range snap.Tables {
		if !slices.Contains(c.names, name) {
			c.log.Warn(ctx, "backup table not configured, ignoring", "table", name)
		}
	}

	var res ImportResult
	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		store := c.tables(tx)
		if _, err := tx.ExecContext(ctx, store.d.DeferForeignKeys()); err != nil {
			return fmt.Errorf("defer foreign keys: %w", err)
		}

		for _, name := range c.names {
			rows := snap.Tables[name]
			if len(rows) == 0 {
				continue
			}
			imported, skipped, err := c.mergeTable(ctx, store, name, rows)
			if err != nil {
				return err
			}
			res.Imported += imported
			res.Skipped += skipped
		}
		return store.CheckForeignKeys(ctx)
	})
	if err != nil {
		if errors.Is(err, common.ErrBackupFormatInvalid) {
			return nil, err
		}
		c.log.Error(ctx, "backup import rolled back", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrImportTransactionFailed, err)
	}
	return &res, nil
}

func (c *Codec) mergeTable(ctx context.Context, store *TableStore, name string, rows []Row) (int, int, error) {
	cols, err := store.Columns(ctx, name)
	if err != nil {
		return 0, 0, fmt.Errorf("table %s: %w", name, err)
	}
	known := make(map[string]Column, len(cols))
	for _, col := range cols {
		known[col.Name] = col
	}
	pk, ok := known[PrimaryKey]
	if !ok {
		return 0, 0, fmt.Errorf("%w: table %s has no %s column", common.ErrBackupFormatInvalid, name, PrimaryKey)
	}

	imported, skipped := 0, 0
	for i, row := range rows {
		for col := range row {
			if _, ok := known[col]; !ok {
				return 0, 0, fmt.Errorf("%w: table %s row %d: unknown column %q", common.ErrBackupFormatInvalid, name, i, col)
			}
		}
		raw, ok := row[PrimaryKey]
		if !ok || raw == nil {
			return 0, 0, fmt.Errorf("%w: table %s row %d: missing %s", common.ErrBackupFormatInvalid, name, i, PrimaryKey)
		}
		id, err := importValue(pk, raw)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: table %s row %d: %v", common.ErrBackupFormatInvalid, name, i, err)
		}

		exists, err := store.Exists(ctx, name, id)
		if err != nil {
			return 0, 0, fmt.Errorf("table %s: %w", name, err)
		}
		if exists {
			skipped++
			continue
		}
		if err := store.Insert(ctx, name, cols, row); err != nil {
			if errors.Is(err, errUnsupportedValue) {
				return 0, 0, fmt.Errorf("%w: table %s row %d: %v", common.ErrBackupFormatInvalid, name, i, err)
			}
			return 0, 0, fmt.Errorf("table %s row %d: %w", name, i, err)
		}
		imported++
	}

	if imported > 0 {
		if err := store.SyncIdentity(ctx, name); err != nil {
			return 0, 0, fmt.Errorf("table %s: %w", name, err)
		}
	}
	return imported, skipped, nil
}
