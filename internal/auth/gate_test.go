package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/dmitrijs2005/rackvault/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ events []audit.Event }

func (r *recorder) Record(_ context.Context, e audit.Event) { r.events = append(r.events, e) }

func (r *recorder) count(a audit.Action) int {
	n := 0
	for _, e := range r.events {
		if e.Action == a {
			n++
		}
	}
	return n
}

type gateFixture struct {
	gate *Gate
	repo accounts.Repository
	acc  *accounts.Account
	rec  *recorder
	now  time.Time
}

func (f *gateFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	repos := func(db dbx.DBTX) accounts.Repository { return accounts.NewSQLRepository(db, dbx.SQLite) }
	hasher := cryptox.NewPasswordHasher(cryptox.Argon2Params{Memory: 64, Time: 1, Threads: 1})

	hash, err := hasher.Hash([]byte("correct horse"))
	require.NoError(t, err)
	repo := repos(db)
	acc, err := repo.Create(context.Background(), &accounts.Account{Username: "alice", PasswordHash: hash, Role: accounts.RoleAdmin})
	require.NoError(t, err)

	f := &gateFixture{repo: repo, acc: acc, rec: &recorder{}, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	policy := LockoutPolicy{Threshold: common.DefaultLockoutThreshold, Duration: common.DefaultLockoutDuration}
	f.gate = NewGate(db, repos, hasher, policy, f.rec, logging.Discard())
	f.gate.now = func() time.Time { return f.now }
	return f
}

func TestGate_Success(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	acc, err := f.gate.Attempt(ctx, "alice", []byte("correct horse"), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, f.acc.ID, acc.ID)

	stored, err := f.repo.GetByID(ctx, f.acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", stored.LastLoginIP)
	assert.True(t, stored.LastLoginAt.Equal(f.now))
	assert.Equal(t, 1, f.rec.count(audit.LoginSuccess))
}

func TestGate_UnknownUserLooksLikeWrongPassword(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, errUnknown := f.gate.Attempt(ctx, "mallory", []byte("x"), "")
	_, errWrong := f.gate.Attempt(ctx, "alice", []byte("x"), "")

	assert.ErrorIs(t, errUnknown, common.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, common.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestGate_UsernameIsCaseSensitive(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.Attempt(context.Background(), "Alice", []byte("correct horse"), "")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestGate_LocksAfterThreshold(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	for i := 0; i < common.DefaultLockoutThreshold-1; i++ {
		_, err := f.gate.Attempt(ctx, "alice", []byte("wrong"), "")
		require.ErrorIs(t, err, common.ErrInvalidCredentials)
	}

	_, err := f.gate.Attempt(ctx, "alice", []byte("wrong"), "")
	var locked *common.AccountLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 15, locked.MinutesRemaining)
	assert.ErrorIs(t, err, common.ErrAccountLocked)

	// the right password does not help while locked
	f.advance(5 * time.Minute)
	_, err = f.gate.Attempt(ctx, "alice", []byte("correct horse"), "")
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 10, locked.MinutesRemaining)

	f.advance(10*time.Minute + time.Second)
	acc, err := f.gate.Attempt(ctx, "alice", []byte("correct horse"), "")
	require.NoError(t, err)
	assert.Equal(t, 0, acc.FailedAttemptCount)

	stored, err := f.repo.GetByID(ctx, f.acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttemptCount)
	assert.True(t, stored.LockedUntil.IsZero())
	assert.Equal(t, 2, f.rec.count(audit.LoginLocked))
}

func TestGate_ExpiredLockIsClearedBeforeCounting(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	for i := 0; i < common.DefaultLockoutThreshold; i++ {
		_, _ = f.gate.Attempt(ctx, "alice", []byte("wrong"), "")
	}
	f.advance(common.DefaultLockoutDuration + time.Minute)

	// a wrong password after expiry starts a fresh count
	_, err := f.gate.Attempt(ctx, "alice", []byte("wrong"), "")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	stored, err := f.repo.GetByID(ctx, f.acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttemptCount)
	assert.True(t, stored.LockedUntil.IsZero())
}

func TestGate_SuccessResetsCounter(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	for i := 0; i < common.DefaultLockoutThreshold-1; i++ {
		_, _ = f.gate.Attempt(ctx, "alice", []byte("wrong"), "")
	}
	_, err := f.gate.Attempt(ctx, "alice", []byte("correct horse"), "")
	require.NoError(t, err)

	_, err = f.gate.Attempt(ctx, "alice", []byte("wrong"), "")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}
