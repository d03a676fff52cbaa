package app

import (
	"context"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/backup"
	"github.com/dmitrijs2005/rackvault/internal/vault"
)

// Operations used by the admin CLI.

func (a *App) CreateAccount(ctx context.Context, username, email string, password []byte, role string) (*accounts.Account, error) {
	return a.accounts.Create(ctx, username, email, password, role)
}

func (a *App) ListAccounts(ctx context.Context) ([]*accounts.Account, error) {
	return a.accounts.List(ctx)
}

func (a *App) GetAccount(ctx context.Context, username string) (*accounts.Account, error) {
	return a.accounts.GetByUsername(ctx, username)
}

func (a *App) InitializeVault(ctx context.Context, accountID string, passphrase []byte) error {
	return a.vault.Initialize(ctx, accountID, passphrase)
}

func (a *App) ShareVault(ctx context.Context, sess *vault.Session, targetAccountID string, passphrase []byte) error {
	return a.vault.Share(ctx, sess, targetAccountID, passphrase)
}

func (a *App) ChangeVaultPassphrase(ctx context.Context, accountID string, current, next []byte) error {
	return a.vault.ChangePassphrase(ctx, accountID, current, next)
}

func (a *App) RecentAudit(ctx context.Context, limit int) ([]*audit.Event, error) {
	return a.audit.Recent(ctx, limit)
}

// BackupStore connects to the configured S3 bucket.
func (a *App) BackupStore(ctx context.Context) (*backup.S3Store, error) {
	c := a.config
	return backup.NewS3Store(ctx, backup.S3Config{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		Prefix:       c.S3Prefix,
	})
}

// HousekeepingResult counts what one Housekeep pass removed.
type HousekeepingResult struct {
	DeviceTokens int64
	Challenges   int
	Enrollments  int
}

// Housekeep drops expired device tokens, login challenges and pending
// enrollments.
func (a *App) Housekeep(ctx context.Context) (*HousekeepingResult, error) {
	n, err := a.devices.PurgeExpired(ctx)
	if err != nil {
		return nil, err
	}
	res := &HousekeepingResult{
		DeviceTokens: n,
		Challenges:   a.challenges.Sweep(),
		Enrollments:  a.totp.Sweep(),
	}
	a.logger.Debug(ctx, "housekeeping done", "device_tokens", res.DeviceTokens, "challenges", res.Challenges, "enrollments", res.Enrollments)
	return res, nil
}
