// Package devicetrust implements remember-device tokens: a long-lived random
// cookie that lets a returning browser skip the second-factor challenge.
// Only the SHA-256 of the token is stored.
package devicetrust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
)

// Token is one device_tokens row.
type Token struct {
	ID         string
	AccountID  string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Repository defines storage for device-trust tokens.
type Repository interface {
	Create(ctx context.Context, t *Token) error
	// FindByHash returns common.ErrorNotFound when the hash is unknown.
	FindByHash(ctx context.Context, hash string) (*Token, error)
	// Touch moves the expiry and records the use time.
	Touch(ctx context.Context, id string, expiresAt, usedAt time.Time) error
	// DeleteByHash removes a token; deleting an unknown hash is not an error.
	DeleteByHash(ctx context.Context, hash string) (int64, error)
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RepositoryFactory binds a Repository to a database handle or transaction.
type RepositoryFactory func(db dbx.DBTX) Repository

// SQLRepository implements Repository for both dialects.
type SQLRepository struct {
	db dbx.DBTX
	d  dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, d: d}
}

func (r *SQLRepository) Create(ctx context.Context, t *Token) error {
	query := r.d.Rebind(`INSERT INTO device_tokens (id, account_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.AccountID, t.TokenHash, t.ExpiresAt, t.CreatedAt); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLRepository) FindByHash(ctx context.Context, hash string) (*Token, error) {
	query := r.d.Rebind(`SELECT id, account_id, token_hash, expires_at, created_at, last_used_at
		FROM device_tokens WHERE token_hash = ?`)

	var (
		t        Token
		lastUsed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	if lastUsed.Valid {
		t.LastUsedAt = lastUsed.Time
	}
	return &t, nil
}

func (r *SQLRepository) Touch(ctx context.Context, id string, expiresAt, usedAt time.Time) error {
	query := r.d.Rebind(`UPDATE device_tokens SET expires_at = ?, last_used_at = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, expiresAt, usedAt, id); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLRepository) deleteWhere(ctx context.Context, query string, arg any) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.d.Rebind(query), arg)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) DeleteByHash(ctx context.Context, hash string) (int64, error) {
	return r.deleteWhere(ctx, `DELETE FROM device_tokens WHERE token_hash = ?`, hash)
}

func (r *SQLRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	return r.deleteWhere(ctx, `DELETE FROM device_tokens WHERE account_id = ?`, accountID)
}

func (r *SQLRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(ctx, `DELETE FROM device_tokens WHERE expires_at <= ?`, now)
}
