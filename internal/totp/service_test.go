package totp

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type revoker struct{ calls []string }

func (r *revoker) RevokeAll(_ context.Context, id string) error {
	r.calls = append(r.calls, id)
	return nil
}

type recorder struct{ events []audit.Event }

func (r *recorder) Record(_ context.Context, e audit.Event) { r.events = append(r.events, e) }

func newService(t *testing.T) (*Service, *accounts.Account, *revoker, *recorder, *time.Time) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	repo := accounts.NewSQLRepository(db, dbx.SQLite)
	acc, err := repo.Create(context.Background(), &accounts.Account{Username: "alice", PasswordHash: "h", Role: accounts.RoleAdmin})
	require.NoError(t, err)

	now := time.Unix(1_700_000_015, 0).UTC()
	clock := func() time.Time { return now }

	gate := NewGate("rackvault")
	box, err := NewBox([]byte("install-secret-0123456789"))
	require.NoError(t, err)
	enr := NewEnrollments(gate, common.DefaultEnrollmentTTL)
	enr.now = clock

	rev := &revoker{}
	rec := &recorder{}
	repos := func(db dbx.DBTX) accounts.Repository { return accounts.NewSQLRepository(db, dbx.SQLite) }
	s := NewService(db, repos, gate, box, enr, rev, rec)
	s.now = clock
	return s, acc, rev, rec, &now
}

func TestService_EnrollVerifyDisable(t *testing.T) {
	s, acc, rev, rec, now := newService(t)
	ctx := context.Background()

	enr, err := s.BeginEnrollment(ctx, acc.ID)
	require.NoError(t, err)
	assert.Contains(t, enr.URI, "otpauth://totp/")
	assert.NotEmpty(t, enr.QRPNG)

	stored, err := s.repos(s.db).GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, stored.TOTPEnabled, "nothing persisted before confirmation")

	code, err := s.gate.Code(enr.Secret, *now)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmEnrollment(ctx, acc.ID, code))

	stored, err = s.repos(s.db).GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.TOTPEnabled)
	assert.NotContains(t, stored.TOTPSecretWrapped, enr.Secret)

	ok, err := s.VerifyAccount(stored, code)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.VerifyAccount(stored, wrongCode(code))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Disable(ctx, acc.ID, wrongCode(code)), common.ErrSecondFactorInvalid)
	require.NoError(t, s.Disable(ctx, acc.ID, code))

	stored, err = s.repos(s.db).GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, stored.TOTPEnabled)
	assert.Empty(t, stored.TOTPSecretWrapped)
	assert.Equal(t, []string{acc.ID}, rev.calls)

	require.Len(t, rec.events, 2)
	assert.Equal(t, audit.TOTPEnabled, rec.events[0].Action)
	assert.Equal(t, audit.TOTPDisabled, rec.events[1].Action)
}

func TestService_ConfirmWithoutBegin(t *testing.T) {
	s, acc, _, _, _ := newService(t)
	err := s.ConfirmEnrollment(context.Background(), acc.ID, "123456")
	assert.ErrorIs(t, err, common.ErrEnrollmentNotFound)
}

func TestService_CancelEnrollment(t *testing.T) {
	s, acc, _, rec, now := newService(t)
	ctx := context.Background()

	enr, err := s.BeginEnrollment(ctx, acc.ID)
	require.NoError(t, err)
	s.CancelEnrollment(acc.ID)

	code, err := s.gate.Code(enr.Secret, *now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.ConfirmEnrollment(ctx, acc.ID, code), common.ErrEnrollmentNotFound)

	stored, err := s.repos(s.db).GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, stored.TOTPEnabled)
	assert.Empty(t, rec.events)
}
