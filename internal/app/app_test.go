package app

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/auth"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/config"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/dmitrijs2005/rackvault/internal/repomanager"
	"github.com/dmitrijs2005/rackvault/internal/totp"
	"github.com/dmitrijs2005/rackvault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = "file::memory:"
	c.InstallSecret = "install-secret-for-tests-0123456789"
	c.PasswordHashMemory = 64
	c.PasswordHashTime = 1
	c.PasswordHashThreads = 1
	return c
}

func newApp(t *testing.T) *App {
	t.Helper()
	ctx := context.Background()
	c := testConfig()
	rm, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	require.NoError(t, err)
	require.NoError(t, rm.RunMigrations(ctx, logging.Discard()))

	a, err := New(c, rm, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	c := testConfig()
	c.InstallSecret = ""
	_, err := Open(context.Background(), c, io.Discard)
	assert.ErrorContains(t, err, "install secret")
}

func TestOpen_SQLite(t *testing.T) {
	a, err := Open(context.Background(), testConfig(), io.Discard)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestVaultLifecycle(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	alice, err := a.CreateAccount(ctx, "alice", "", []byte("login pw"), "")
	require.NoError(t, err)

	res, err := a.AttemptLogin(ctx, "alice", []byte("login pw"), "192.0.2.1", "")
	require.NoError(t, err)
	require.Equal(t, auth.StatusAuthenticated, res.Status)

	require.NoError(t, a.InitializeVault(ctx, alice.ID, []byte("vault pw")))

	sess := vault.NewSession()
	_, err = a.EncryptSecretField(sess, []byte("s3cret"))
	assert.ErrorIs(t, err, common.ErrVaultLocked)

	assert.ErrorIs(t, a.UnlockVault(ctx, sess, alice.ID, []byte("nope"), ""), common.ErrWrongVaultPassphrase)
	require.NoError(t, a.UnlockVault(ctx, sess, alice.ID, []byte("vault pw"), ""))

	env, err := a.EncryptSecretField(sess, []byte("s3cret"))
	require.NoError(t, err)
	pt, err := a.DecryptSecretField(sess, env)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), pt)

	a.LockVault(ctx, sess)
	_, err = a.DecryptSecretField(sess, env)
	assert.ErrorIs(t, err, common.ErrVaultLocked)
}

func TestSecondFactorAndRememberedDevice(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	alice, err := a.CreateAccount(ctx, "alice", "", []byte("login pw"), "")
	require.NoError(t, err)

	enr, err := a.BeginTOTPEnrollment(ctx, alice.ID)
	require.NoError(t, err)
	gate := totp.NewGate("rackvault")
	code, err := gate.Code(enr.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, a.ConfirmTOTPEnrollment(ctx, alice.ID, code))

	res, err := a.AttemptLogin(ctx, "alice", []byte("login pw"), "", "")
	require.NoError(t, err)
	require.Equal(t, auth.StatusChallengeRequired, res.Status)

	code, err = gate.Code(enr.Secret, time.Now())
	require.NoError(t, err)
	done, err := a.VerifySecondFactor(ctx, res.Challenge, code, true, "")
	require.NoError(t, err)
	require.Equal(t, auth.StatusAuthenticated, done.Status)
	require.NotNil(t, done.DeviceCookie)
	token := done.DeviceCookie.Value
	assert.Len(t, token, 64)

	res, err = a.AttemptLogin(ctx, "alice", []byte("login pw"), "", token)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusAuthenticated, res.Status, "remembered device skips the challenge")

	cookie, err := a.Logout(ctx, vault.NewSession(), token)
	require.NoError(t, err)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)

	res, err = a.AttemptLogin(ctx, "alice", []byte("login pw"), "", token)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusChallengeRequired, res.Status, "revoked device is challenged again")

	a.AbandonLogin(ctx, res.Challenge)
	code, err = gate.Code(enr.Secret, time.Now())
	require.NoError(t, err)
	_, err = a.VerifySecondFactor(ctx, res.Challenge, code, false, "")
	assert.ErrorIs(t, err, common.ErrSecondFactorExpired, "abandoned challenge cannot be completed")

	events, err := a.RecentAudit(ctx, 100)
	require.NoError(t, err)
	var actions []audit.Action
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.TOTPEnabled)
	assert.Contains(t, actions, audit.LoginDeviceTrusted)
	assert.Contains(t, actions, audit.Logout)
}

func TestChangePasswordRevokesRememberedDevices(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	alice, err := a.CreateAccount(ctx, "alice", "", []byte("old pw"), "")
	require.NoError(t, err)
	enr, err := a.BeginTOTPEnrollment(ctx, alice.ID)
	require.NoError(t, err)
	gate := totp.NewGate("rackvault")
	code, err := gate.Code(enr.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, a.ConfirmTOTPEnrollment(ctx, alice.ID, code))

	res, err := a.AttemptLogin(ctx, "alice", []byte("old pw"), "", "")
	require.NoError(t, err)
	done, err := a.VerifySecondFactor(ctx, res.Challenge, code, true, "")
	require.NoError(t, err)
	token := done.DeviceCookie.Value

	require.NoError(t, a.ChangePassword(ctx, alice.ID, []byte("old pw"), []byte("new pw")))

	res, err = a.AttemptLogin(ctx, "alice", []byte("new pw"), "", token)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusChallengeRequired, res.Status)
}

func TestBackupRoundTripAndHousekeeping(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	alice, err := a.CreateAccount(ctx, "alice", "", []byte("pw"), "")
	require.NoError(t, err)
	require.NoError(t, a.InitializeVault(ctx, alice.ID, []byte("vault pw")))
	sess := vault.NewSession()
	require.NoError(t, a.UnlockVault(ctx, sess, alice.ID, []byte("vault pw"), ""))

	env, err := a.EncryptSecretField(sess, []byte("root-password"))
	require.NoError(t, err)
	db := a.repos.DB()
	_, err = db.Exec(`INSERT INTO hosts (id, name) VALUES (1, 'db-1')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credentials (id, host_id, kind, secret_enc) VALUES (1, 1, 'password', ?)`, env)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.ExportBackup(ctx, sess, &buf))
	res, err := a.ImportBackup(ctx, sess, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 2, res.Skipped)

	hk, err := a.Housekeep(ctx)
	require.NoError(t, err)
	assert.Zero(t, hk.DeviceTokens)
}

func TestCancelTOTPEnrollment(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	alice, err := a.CreateAccount(ctx, "alice", "", []byte("login pw"), "")
	require.NoError(t, err)
	enr, err := a.BeginTOTPEnrollment(ctx, alice.ID)
	require.NoError(t, err)

	a.CancelTOTPEnrollment(alice.ID)

	code, err := totp.NewGate("rackvault").Code(enr.Secret, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, a.ConfirmTOTPEnrollment(ctx, alice.ID, code), common.ErrEnrollmentNotFound)
}
