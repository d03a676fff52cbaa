package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
	"github.com/dmitrijs2005/rackvault/internal/logging"
)

// Service manages the vault master key. Each account owns its own envelope
// of the same key; sharing and passphrase changes only write new envelopes.
type Service struct {
	db     *sql.DB
	repos  accounts.RepositoryFactory
	hasher *cryptox.PasswordHasher
	audit  audit.Recorder
	log    logging.Logger
}

func NewService(db *sql.DB, repos accounts.RepositoryFactory, hasher *cryptox.PasswordHasher, rec audit.Recorder, log logging.Logger) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{db: db, repos: repos, hasher: hasher, audit: rec, log: log.With("component", "vault")}
}

// wrapFor produces the envelope and passphrase verifier for key.
func (s *Service) wrapFor(key, passphrase []byte) (string, string, error) {
	wrapped, err := cryptox.Wrap(key, passphrase)
	if err != nil {
		return "", "", fmt.Errorf("wrap vault key: %w", err)
	}
	verifier, err := s.hasher.Hash(passphrase)
	if err != nil {
		return "", "", fmt.Errorf("hash vault passphrase: %w", err)
	}
	return wrapped, verifier, nil
}

// Initialize generates the vault master key and wraps it for accountID. It
// runs once per installation.
func (s *Service) Initialize(ctx context.Context, accountID string, passphrase []byte) error {
	if len(passphrase) == 0 {
		return errors.New("vault passphrase must not be empty")
	}

	key := cryptox.GenerateKey()
	defer common.WipeByteArray(key)

	wrapped, verifier, err := s.wrapFor(key, passphrase)
	if err != nil {
		return err
	}

	var acc *accounts.Account
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos(tx)
		n, err := repo.CountWithVaultKey(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return common.ErrVaultAlreadyInitialized
		}
		if acc, err = repo.GetByID(ctx, accountID); err != nil {
			return err
		}
		return repo.SetVaultKey(ctx, accountID, wrapped, verifier)
	})
	if err != nil {
		return err
	}

	s.log.Info(ctx, "vault initialized", "account_id", accountID)
	s.audit.Record(ctx, audit.Event{AccountID: accountID, Actor: acc.Username, Action: audit.VaultInitialized})
	return nil
}

// Share wraps the key held by an unlocked session for targetAccountID under
// that account's own passphrase. An account that already holds an envelope
// is refused with common.ErrVaultAlreadyInitialized; its owner rotates the
// passphrase with ChangePassphrase.
func (s *Service) Share(ctx context.Context, sess *Session, targetAccountID string, passphrase []byte) error {
	if len(passphrase) == 0 {
		return errors.New("vault passphrase must not be empty")
	}
	repo := s.repos(s.db)
	target, err := repo.GetByID(ctx, targetAccountID)
	if err != nil {
		return err
	}
	if target.HasVaultKey() {
		return common.ErrVaultAlreadyInitialized
	}

	var wrapped, verifier string
	err = sess.WithKey(func(key []byte) error {
		var err error
		wrapped, verifier, err = s.wrapFor(key, passphrase)
		return err
	})
	if err != nil {
		return err
	}

	if err := repo.SetVaultKey(ctx, target.ID, wrapped, verifier); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		AccountID: sess.AccountID(),
		Actor:     target.Username,
		Action:    audit.VaultKeyShared,
		Detail:    "shared with " + target.Username,
	})
	return nil
}

// openEnvelope checks the passphrase against the account's verifier and
// unwraps its envelope. Every failure is common.ErrWrongVaultPassphrase.
func (s *Service) openEnvelope(acc *accounts.Account, passphrase []byte) ([]byte, error) {
	if acc.VaultPasswordVerifier != "" {
		ok, err := s.hasher.Verify(passphrase, acc.VaultPasswordVerifier)
		if err != nil || !ok {
			return nil, common.ErrWrongVaultPassphrase
		}
	}
	key, err := cryptox.Unwrap(acc.VaultKeyWrapped, passphrase)
	if err != nil {
		return nil, common.ErrWrongVaultPassphrase
	}
	return key, nil
}

// ChangePassphrase re-wraps the same key under a new passphrase.
func (s *Service) ChangePassphrase(ctx context.Context, accountID string, current, next []byte) error {
	if len(next) == 0 {
		return errors.New("vault passphrase must not be empty")
	}
	repo := s.repos(s.db)
	acc, err := repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !acc.HasVaultKey() {
		return common.ErrVaultNotInitialized
	}

	key, err := s.openEnvelope(acc, current)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	wrapped, verifier, err := s.wrapFor(key, next)
	if err != nil {
		return err
	}
	if err := repo.SetVaultKey(ctx, accountID, wrapped, verifier); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{AccountID: accountID, Actor: acc.Username, Action: audit.VaultPassphraseChanged})
	return nil
}

// Unlock decrypts the account's envelope into sess. Both outcomes are
// audited.
func (s *Service) Unlock(ctx context.Context, sess *Session, accountID string, passphrase []byte, ip string) error {
	acc, err := s.repos(s.db).GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrWrongVaultPassphrase
		}
		return err
	}
	if !acc.HasVaultKey() {
		return common.ErrVaultNotInitialized
	}

	key, err := s.openEnvelope(acc, passphrase)
	if err != nil {
		s.log.Warn(ctx, "vault unlock failed", "account_id", accountID, "ip", ip)
		s.audit.Record(ctx, audit.Event{AccountID: accountID, Actor: acc.Username, Action: audit.VaultUnlockFailed, IP: ip})
		return err
	}

	sess.unlock(accountID, key)
	s.audit.Record(ctx, audit.Event{AccountID: accountID, Actor: acc.Username, Action: audit.VaultUnlock, IP: ip})
	return nil
}

// Lock wipes the key held by sess.
func (s *Service) Lock(ctx context.Context, sess *Session) {
	accountID := sess.AccountID()
	if sess.Lock() {
		s.audit.Record(ctx, audit.Event{AccountID: accountID, Action: audit.VaultLock})
	}
}

// EncryptField encrypts plaintext with the session's vault key.
func (s *Service) EncryptField(sess *Session, plaintext []byte) (string, error) {
	var out string
	err := sess.WithKey(func(key []byte) error {
		var err error
		out, err = cryptox.EncryptField(plaintext, key)
		return err
	})
	return out, err
}

// DecryptField decrypts an envelope with the session's vault key.
func (s *Service) DecryptField(sess *Session, envelope string) ([]byte, error) {
	var out []byte
	err := sess.WithKey(func(key []byte) error {
		var err error
		out, err = cryptox.DecryptField(envelope, key)
		return err
	})
	return out, err
}
