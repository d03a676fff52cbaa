package vault

import (
	"context"
	"database/sql"
	"testing"

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

func (r *recorder) actions() []audit.Action {
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc   *Service
	db    *sql.DB
	rec   *recorder
	alice *accounts.Account
	bob   *accounts.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenSQLite(t)
	repo := accounts.NewSQLRepository(db, dbx.SQLite)
	ctx := context.Background()

	alice, err := repo.Create(ctx, &accounts.Account{Username: "alice", PasswordHash: "h", Role: accounts.RoleAdmin})
	require.NoError(t, err)
	bob, err := repo.Create(ctx, &accounts.Account{Username: "bob", PasswordHash: "h", Role: accounts.RoleOperator})
	require.NoError(t, err)

	rec := &recorder{}
	hasher := cryptox.NewPasswordHasher(cryptox.Argon2Params{Memory: 64, Time: 1, Threads: 1})
	repos := func(db dbx.DBTX) accounts.Repository { return accounts.NewSQLRepository(db, dbx.SQLite) }
	return &fixture{
		svc:   NewService(db, repos, hasher, rec, logging.Discard()),
		db:    db,
		rec:   rec,
		alice: alice,
		bob:   bob,
	}
}

func TestUnlockThenLockThenDecryptFailsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, f.alice.ID, []byte("vault-pass")))

	sess := NewSession()
	require.NoError(t, f.svc.Unlock(ctx, sess, f.alice.ID, []byte("vault-pass"), "10.0.0.1"))
	env, err := f.svc.EncryptField(sess, []byte("db-password"))
	require.NoError(t, err)

	f.svc.Lock(ctx, sess)

	_, err = f.svc.DecryptField(sess, env)
	assert.ErrorIs(t, err, common.ErrVaultLocked)
	_, err = f.svc.EncryptField(sess, []byte("x"))
	assert.ErrorIs(t, err, common.ErrVaultLocked)

	assert.Equal(t, []audit.Action{audit.VaultInitialized, audit.VaultUnlock, audit.VaultLock}, f.rec.actions())
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, f.alice.ID, []byte("vault-pass")))

	sess := NewSession()
	err := f.svc.Unlock(ctx, sess, f.alice.ID, []byte("nope"), "10.0.0.2")
	assert.ErrorIs(t, err, common.ErrWrongVaultPassphrase)
	assert.False(t, sess.IsUnlocked())

	last := f.rec.events[len(f.rec.events)-1]
	assert.Equal(t, audit.VaultUnlockFailed, last.Action)
	assert.Equal(t, "10.0.0.2", last.IP)
}

func TestUnlock_NotInitialized(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Unlock(context.Background(), NewSession(), f.alice.ID, []byte("x"), "")
	assert.ErrorIs(t, err, common.ErrVaultNotInitialized)

	err = f.svc.Unlock(context.Background(), NewSession(), "missing", []byte("x"), "")
	assert.ErrorIs(t, err, common.ErrWrongVaultPassphrase)
}

func TestInitialize_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, f.alice.ID, []byte("a")))

	assert.ErrorIs(t, f.svc.Initialize(ctx, f.alice.ID, []byte("b")), common.ErrVaultAlreadyInitialized)
	assert.ErrorIs(t, f.svc.Initialize(ctx, f.bob.ID, []byte("b")), common.ErrVaultAlreadyInitialized)
}

func TestShare_BothAccountsUnwrapSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, f.alice.ID, []byte("alice-vault")))

	aliceSess := NewSession()
	require.NoError(t, f.svc.Unlock(ctx, aliceSess, f.alice.ID, []byte("alice-vault"), ""))

	assert.ErrorIs(t, f.svc.Share(ctx, NewSession(), f.bob.ID, []byte("bob-vault")), common.ErrVaultLocked)
	require.NoError(t, f.svc.Share(ctx, aliceSess, f.bob.ID, []byte("bob-vault")))

	env, err := f.svc.EncryptField(aliceSess, []byte("ssh-key"))
	require.NoError(t, err)

	bobSess := NewSession()
	require.NoError(t, f.svc.Unlock(ctx, bobSess, f.bob.ID, []byte("bob-vault"), ""))
	got, err := f.svc.DecryptField(bobSess, env)
	require.NoError(t, err)
	assert.Equal(t, []byte("ssh-key"), got)

	var aliceEnv, bobEnv string
	require.NoError(t, f.db.QueryRow(`SELECT vault_key_wrapped FROM accounts WHERE id = ?`, f.alice.ID).Scan(&aliceEnv))
	require.NoError(t, f.db.QueryRow(`SELECT vault_key_wrapped FROM accounts WHERE id = ?`, f.bob.ID).Scan(&bobEnv))
	assert.NotEqual(t, aliceEnv, bobEnv, "each account owns its own envelope")
}

func TestShare_RefusesTargetWithEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, f.alice.ID, []byte("alice-vault")))

	aliceSess := NewSession()
	require.NoError(t, f.svc.Unlock(ctx, aliceSess, f.alice.ID, []byte("alice-vault"), ""))
	require.NoError(t, f.svc.Share(ctx, aliceSess, f.bob.ID, []byte("bob-vault")))

	err := f.svc.Share(ctx, aliceSess, f.bob.ID, []byte("reset-by-alice"))
	assert.ErrorIs(t, err, common.ErrVaultAlreadyInitialized)
	assert.ErrorIs(t, f.svc.Share(ctx, aliceSess, f.alice.ID, []byte("x")), common.ErrVaultAlreadyInitialized)

	bobSess := NewSession()
	assert.ErrorIs(t, f.svc.Unlock(ctx, bobSess, f.bob.ID, []byte("reset-by-alice"), ""), common.ErrWrongVaultPassphrase)
	require.NoError(t, f.svc.Unlock(ctx, bobSess, f.bob.ID, []byte("bob-vault"), ""), "bob's passphrase is unchanged")
}

func TestChangePassphrase_RewrapsSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, f.alice.ID, []byte("old")))

	sess := NewSession()
	require.NoError(t, f.svc.Unlock(ctx, sess, f.alice.ID, []byte("old"), ""))
	env, err := f.svc.EncryptField(sess, []byte("token"))
	require.NoError(t, err)
	f.svc.Lock(ctx, sess)

	assert.ErrorIs(t, f.svc.ChangePassphrase(ctx, f.alice.ID, []byte("bad"), []byte("new")), common.ErrWrongVaultPassphrase)
	require.NoError(t, f.svc.ChangePassphrase(ctx, f.alice.ID, []byte("old"), []byte("new")))

	assert.ErrorIs(t, f.svc.Unlock(ctx, sess, f.alice.ID, []byte("old"), ""), common.ErrWrongVaultPassphrase)
	require.NoError(t, f.svc.Unlock(ctx, sess, f.alice.ID, []byte("new"), ""))

	got, err := f.svc.DecryptField(sess, env)
	require.NoError(t, err, "data encrypted before rotation still decrypts")
	assert.Equal(t, []byte("token"), got)
}
