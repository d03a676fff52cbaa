package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/dbx"
)

// PrimaryKey is the column every exported table is keyed by.
const PrimaryKey = "id"

// Column is a live column of a table.
type Column struct {
	Name     string
	Type     string
	temporal bool
}

// TableStore reads and inserts rows of arbitrary tables. Table names come
// from configuration; column names are checked against the live schema
// before they reach a statement.
type TableStore struct {
	db dbx.DBTX
	d  dbx.Dialect
}

// TablesFactory binds a TableStore to a connection or transaction.
type TablesFactory func(db dbx.DBTX) *TableStore

func NewTableStore(db dbx.DBTX, d dbx.Dialect) *TableStore {
	return &TableStore{db: db, d: d}
}

// Columns returns the columns of table in schema order.
func (s *TableStore) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.d.QuoteIdent(table)+" WHERE 1=0")
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	cols := make([]Column, len(types))
	for i, ct := range types {
		typ := strings.ToUpper(ct.DatabaseTypeName())
		cols[i] = Column{
			Name:     ct.Name(),
			Type:     typ,
			temporal: strings.Contains(typ, "TIME") || strings.Contains(typ, "DATE"),
		}
	}
	return cols, rows.Err()
}

// Rows returns every row of table ordered by primary key.
func (s *TableStore) Rows(ctx context.Context, table string) ([]Row, error) {
	q := s.d.QuoteIdent(table)
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+q+" ORDER BY "+s.d.QuoteIdent(PrimaryKey))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		row := make(Row, len(names))
		for i, name := range names {
			row[name] = exportValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func exportValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

// Exists reports whether table has a row with the given primary key.
func (s *TableStore) Exists(ctx context.Context, table string, id any) (bool, error) {
	query := s.d.Rebind("SELECT 1 FROM " + s.d.QuoteIdent(table) + " WHERE " + s.d.QuoteIdent(PrimaryKey) + " = ?")
	var one int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return true, nil
}

// Insert writes row into table. cols must come from Columns and contain
// every key of row.
func (s *TableStore) Insert(ctx context.Context, table string, cols []Column, row Row) error {
	names := make([]string, 0, len(row))
	marks := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, c := range cols {
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		arg, err := importValue(c, v)
		if err != nil {
			return err
		}
		names = append(names, s.d.QuoteIdent(c.Name))
		marks = append(marks, "?")
		args = append(args, arg)
	}

	query := s.d.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.d.QuoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CheckForeignKeys runs the deferred foreign-key checks early so a
// violation aborts the transaction instead of its commit.
func (s *TableStore) CheckForeignKeys(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, s.d.CheckForeignKeys())
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return errForeignKeyViolation
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	return nil
}

// SyncIdentity moves the table's id generator past imported rows.
func (s *TableStore) SyncIdentity(ctx context.Context, table string) error {
	stmt := s.d.SyncIdentity(table)
	if stmt == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

var (
	errUnsupportedValue    = errors.New("unsupported value")
	errForeignKeyViolation = errors.New("foreign key violation")
)

// importValue converts a decoded JSON value into a driver argument.
func importValue(c Column, v any) (any, error) {
	switch x := v.(type) {
	case nil, bool:
		return x, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return f, nil
	case string:
		if c.temporal {
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t, nil
			}
		}
		return x, nil
	default:
		return nil, fmt.Errorf("column %s: %w %T", c.Name, errUnsupportedValue, v)
	}
}
