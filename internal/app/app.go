// Package app wires the vault core from configuration and exposes the
// operations the surrounding application calls: login, second factor,
// vault unlock and lock, field encryption, backups and account upkeep.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/auth"
	"github.com/dmitrijs2005/rackvault/internal/backup"
	"github.com/dmitrijs2005/rackvault/internal/config"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
	"github.com/dmitrijs2005/rackvault/internal/devicetrust"
	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/dmitrijs2005/rackvault/internal/repomanager"
	"github.com/dmitrijs2005/rackvault/internal/totp"
	"github.com/dmitrijs2005/rackvault/internal/vault"
)

type App struct {
	config *config.Config
	logger logging.Logger
	repos  repomanager.RepositoryManager

	audit      *audit.Logger
	accounts   *accounts.Service
	devices    *devicetrust.Service
	vault      *vault.Service
	totp       *totp.Service
	challenges *auth.Challenges
	login      *auth.Flow
	backup     *backup.Codec
}

// Open validates c, connects to the configured database, applies pending
// migrations and builds the App. Logs go to logOut.
func Open(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(logOut, c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, err
	}

	rm, err := repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx, logger); err != nil {
		_ = rm.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	a, err := New(c, rm, logger)
	if err != nil {
		_ = rm.Close()
		return nil, err
	}
	return a, nil
}

// New builds the App over an opened, migrated database.
func New(c *config.Config, rm repomanager.RepositoryManager, logger logging.Logger) (*App, error) {
	db := rm.DB()
	secret := []byte(c.InstallSecret)

	box, err := totp.NewBox(secret)
	if err != nil {
		return nil, fmt.Errorf("totp key: %w", err)
	}
	challengeKey, err := cryptox.DeriveSubkey(secret, cryptox.InfoChallenge)
	if err != nil {
		return nil, fmt.Errorf("challenge key: %w", err)
	}

	hasher := cryptox.NewPasswordHasher(cryptox.Argon2Params{
		Memory:  c.PasswordHashMemory,
		Time:    c.PasswordHashTime,
		Threads: c.PasswordHashThreads,
	})

	rec := audit.NewLogger(rm.Audit(db), logger)
	devices := devicetrust.NewService(db, rm.DeviceTokens, c.DeviceTrustTTL, devicetrust.CookieConfig{
		Name:   c.DeviceCookieName,
		Secure: c.DeviceCookieSecure,
	}, rec)

	gate := totp.NewGate(c.TOTPIssuer)
	totpSvc := totp.NewService(db, rm.Accounts, gate, box, totp.NewEnrollments(gate, c.EnrollmentTTL), devices, rec)

	challenges := auth.NewChallenges(challengeKey, c.ChallengeTTL, c.ChallengeMaxAttempts)
	authGate := auth.NewGate(db, rm.Accounts, hasher, auth.LockoutPolicy{
		Threshold: c.LockoutThreshold,
		Duration:  c.LockoutDuration,
	}, rec, logger)

	return &App{
		config:     c,
		logger:     logger,
		repos:      rm,
		audit:      rec,
		accounts:   accounts.NewService(db, rm.Accounts, hasher, c.MaxAccounts, devices, rec),
		devices:    devices,
		vault:      vault.NewService(db, rm.Accounts, hasher, rec, logger),
		totp:       totpSvc,
		challenges: challenges,
		login:      auth.NewFlow(db, rm.Accounts, authGate, challenges, devices, totpSvc, rec, logger),
		backup:     backup.NewCodec(db, rm.Tables, c.BackupTables, rec, logger),
	}, nil
}

func (a *App) Close() error {
	return a.repos.Close()
}

func (a *App) Logger() logging.Logger { return a.logger }

// AttemptLogin checks username and password. deviceToken is the value of
// the remember-device cookie, if the browser sent one.
func (a *App) AttemptLogin(ctx context.Context, username string, password []byte, clientIP, deviceToken string) (*auth.LoginResult, error) {
	return a.login.AttemptLogin(ctx, username, password, clientIP, deviceToken)
}

// VerifySecondFactor completes a challenged login.
func (a *App) VerifySecondFactor(ctx context.Context, challenge, code string, rememberDevice bool, clientIP string) (*auth.LoginResult, error) {
	return a.login.VerifySecondFactor(ctx, challenge, code, rememberDevice, clientIP)
}

// AbandonLogin drops the pending challenge of a login the user cancelled.
func (a *App) AbandonLogin(ctx context.Context, challenge string) {
	a.login.AbandonChallenge(ctx, challenge)
}

func (a *App) UnlockVault(ctx context.Context, sess *vault.Session, accountID string, passphrase []byte, clientIP string) error {
	return a.vault.Unlock(ctx, sess, accountID, passphrase, clientIP)
}

func (a *App) LockVault(ctx context.Context, sess *vault.Session) {
	a.vault.Lock(ctx, sess)
}

func (a *App) EncryptSecretField(sess *vault.Session, plaintext []byte) (string, error) {
	return a.vault.EncryptField(sess, plaintext)
}

func (a *App) DecryptSecretField(sess *vault.Session, envelope string) ([]byte, error) {
	return a.vault.DecryptField(sess, envelope)
}

func (a *App) ExportBackup(ctx context.Context, sess *vault.Session, w io.Writer) error {
	return a.backup.Export(ctx, sess, w)
}

func (a *App) ImportBackup(ctx context.Context, sess *vault.Session, r io.Reader) (*backup.ImportResult, error) {
	return a.backup.Import(ctx, sess, r)
}

// Logout locks the vault and forgets the browser's device token. The
// returned cookie clears the remember-device cookie and is nil when no
// token was presented.
func (a *App) Logout(ctx context.Context, sess *vault.Session, deviceToken string) (*http.Cookie, error) {
	accountID := sess.AccountID()
	a.vault.Lock(ctx, sess)

	var cookie *http.Cookie
	if deviceToken != "" {
		if err := a.devices.RevokeForSession(ctx, deviceToken); err != nil {
			return nil, err
		}
		cookie = a.devices.ClearCookie()
	}
	a.audit.Record(ctx, audit.Event{AccountID: accountID, Action: audit.Logout})
	return cookie, nil
}

func (a *App) BeginTOTPEnrollment(ctx context.Context, accountID string) (*totp.Enrollment, error) {
	return a.totp.BeginEnrollment(ctx, accountID)
}

func (a *App) CancelTOTPEnrollment(accountID string) {
	a.totp.CancelEnrollment(accountID)
}

func (a *App) ConfirmTOTPEnrollment(ctx context.Context, accountID, code string) error {
	return a.totp.ConfirmEnrollment(ctx, accountID, code)
}

func (a *App) DisableTOTP(ctx context.Context, accountID, code string) error {
	return a.totp.Disable(ctx, accountID, code)
}

func (a *App) ChangePassword(ctx context.Context, accountID string, current, next []byte) error {
	return a.accounts.ChangePassword(ctx, accountID, current, next)
}
