package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/rackvault/internal/dbx"
)

// Repository persists audit events.
type Repository interface {
	Insert(ctx context.Context, e *Event) error
	Recent(ctx context.Context, limit int) ([]*Event, error)
}

// SQLRepository implements Repository for both dialects.
type SQLRepository struct {
	db dbx.DBTX
	d  dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, d: d}
}

func (r *SQLRepository) Insert(ctx context.Context, e *Event) error {
	query := r.d.Rebind(`INSERT INTO audit_log (id, account_id, actor, action, ip, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	accountID := sql.NullString{String: e.AccountID, Valid: e.AccountID != ""}
	if _, err := r.db.ExecContext(ctx, query, e.ID, accountID, e.Actor, string(e.Action), e.IP, e.Detail, e.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *SQLRepository) Recent(ctx context.Context, limit int) ([]*Event, error) {
	query := r.d.Rebind(`SELECT id, account_id, actor, action, ip, detail, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		var (
			e         Event
			accountID sql.NullString
			action    string
		)
		if err := rows.Scan(&e.ID, &accountID, &e.Actor, &action, &e.IP, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		e.AccountID = accountID.String
		e.Action = Action(action)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
