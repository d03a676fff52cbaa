package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/dbx"
)

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, a *Account) (*Account, error)
	Count(ctx context.Context) (int, error)
	CountWithVaultKey(ctx context.Context) (int, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)

	// RegisterFailure increments the failed attempt counter in a single
	// statement and sets locked_until to lockUntil when the new count reaches
	// threshold. It returns the new count and whether the lock was set.
	RegisterFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, bool, error)
	// ClearLock resets the counter and clears locked_until.
	ClearLock(ctx context.Context, id string) error
	// RecordLogin clears the lockout state and stores the last login.
	RecordLogin(ctx context.Context, id string, at time.Time, ip string) error

	SetVaultKey(ctx context.Context, id, wrapped, verifier string) error
	SetTOTP(ctx context.Context, id, wrapped string, enabled bool) error
	SetPasswordHash(ctx context.Context, id, hash string) error
}

// RepositoryFactory binds a Repository to a database handle or transaction.
type RepositoryFactory func(db dbx.DBTX) Repository
