// Package auth implements password authentication with fixed-window
// lockout, the pending second-factor challenge and the login flow that ties
// them to remembered devices.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
	"github.com/dmitrijs2005/rackvault/internal/logging"
)

// LockoutPolicy is the fixed lockout window applied after Threshold
// consecutive failures.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Gate verifies username and password.
type Gate struct {
	db     *sql.DB
	repos  accounts.RepositoryFactory
	hasher *cryptox.PasswordHasher
	policy LockoutPolicy
	audit  audit.Recorder
	log    logging.Logger
	now    func() time.Time
}

func NewGate(db *sql.DB, repos accounts.RepositoryFactory, hasher *cryptox.PasswordHasher, policy LockoutPolicy, rec audit.Recorder, log logging.Logger) *Gate {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Gate{
		db:     db,
		repos:  repos,
		hasher: hasher,
		policy: policy,
		audit:  rec,
		log:    log.With("component", "auth"),
		now:    time.Now,
	}
}

// Attempt authenticates username/password.
//
// Unknown users and wrong passwords both yield common.ErrInvalidCredentials,
// and an unknown user costs one Argon2id verification like a known one. An
// active lock yields *common.AccountLockedError, as does the failure that
// reaches the threshold. An expired lock is cleared before the password is
// checked.
func (g *Gate) Attempt(ctx context.Context, username string, password []byte, ip string) (*accounts.Account, error) {
	repo := g.repos(g.db)

	acc, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			g.hasher.VerifyDummy(password)
			g.audit.Record(ctx, audit.Event{Actor: username, Action: audit.LoginFailed, IP: ip, Detail: "unknown user"})
			return nil, common.ErrInvalidCredentials
		}
		g.log.Error(ctx, "account lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	now := g.now()
	if acc.IsLocked(now) {
		g.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: username, Action: audit.LoginLocked, IP: ip})
		return nil, &common.AccountLockedError{MinutesRemaining: common.MinutesUntil(now, acc.LockedUntil)}
	}
	if !acc.LockedUntil.IsZero() {
		if err := repo.ClearLock(ctx, acc.ID); err != nil {
			g.log.Error(ctx, "clear expired lock failed", "account_id", acc.ID, "error", err)
			return nil, common.ErrorInternal
		}
		acc.FailedAttemptCount = 0
		acc.LockedUntil = time.Time{}
	}

	ok, err := g.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		g.log.Error(ctx, "stored password hash unreadable", "account_id", acc.ID, "error", err)
		ok = false
	}
	if !ok {
		return nil, g.fail(ctx, acc, now, ip)
	}

	if err := repo.RecordLogin(ctx, acc.ID, now.UTC(), ip); err != nil {
		g.log.Error(ctx, "record login failed", "account_id", acc.ID, "error", err)
		return nil, common.ErrorInternal
	}
	acc.FailedAttemptCount = 0
	acc.LockedUntil = time.Time{}
	acc.LastLoginAt = now.UTC()
	acc.LastLoginIP = ip

	g.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: username, Action: audit.LoginSuccess, IP: ip})
	return acc, nil
}

func (g *Gate) fail(ctx context.Context, acc *accounts.Account, now time.Time, ip string) error {
	lockUntil := now.Add(g.policy.Duration).UTC()

	count, locked, err := g.repos(g.db).RegisterFailure(ctx, acc.ID, g.policy.Threshold, lockUntil)
	if err != nil {
		g.log.Error(ctx, "register failure failed", "account_id", acc.ID, "error", err)
		return common.ErrorInternal
	}
	g.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: acc.Username, Action: audit.LoginFailed, IP: ip})

	if locked {
		g.log.Warn(ctx, "account locked", "account_id", acc.ID, "failed_attempts", count, "ip", ip)
		g.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: acc.Username, Action: audit.LoginLocked, IP: ip})
		return &common.AccountLockedError{MinutesRemaining: common.MinutesUntil(now, lockUntil)}
	}
	return common.ErrInvalidCredentials
}
