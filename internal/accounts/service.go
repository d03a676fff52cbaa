package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
	"github.com/dmitrijs2005/rackvault/internal/dbx"
)

// DeviceRevoker drops every remembered device of an account.
type DeviceRevoker interface {
	RevokeAll(ctx context.Context, accountID string) error
}

// Service manages the account set: creation under the installation cap and
// password changes.
type Service struct {
	db          *sql.DB
	repos       RepositoryFactory
	hasher      *cryptox.PasswordHasher
	maxAccounts int
	devices     DeviceRevoker
	audit       audit.Recorder
}

// NewService builds the account service. maxAccounts may lower the cap but
// never raise it above common.DefaultMaxAccounts.
func NewService(db *sql.DB, repos RepositoryFactory, hasher *cryptox.PasswordHasher, maxAccounts int, devices DeviceRevoker, rec audit.Recorder) *Service {
	if maxAccounts < 1 || maxAccounts > common.DefaultMaxAccounts {
		maxAccounts = common.DefaultMaxAccounts
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{
		db:          db,
		repos:       repos,
		hasher:      hasher,
		maxAccounts: maxAccounts,
		devices:     devices,
		audit:       rec,
	}
}

// Create adds an account. An empty role means admin for the first account
// and operator afterwards. It fails with common.ErrAccountLimitReached once
// the cap is reached and common.ErrorAlreadyExists for a taken username.
func (s *Service) Create(ctx context.Context, username, email string, password []byte, role string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username must not be empty")
	}
	if len(password) == 0 {
		return nil, errors.New("password must not be empty")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *Account
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos(tx)
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		if n >= s.maxAccounts {
			return common.ErrAccountLimitReached
		}
		if role == "" {
			role = RoleOperator
			if n == 0 {
				role = RoleAdmin
			}
		}
		created, err = repo.Create(ctx, &Account{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Role:         role,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ChangePassword replaces the login password after checking the current one
// and revokes all remembered devices of the account.
func (s *Service) ChangePassword(ctx context.Context, accountID string, current, next []byte) error {
	if len(next) == 0 {
		return errors.New("password must not be empty")
	}
	repo := s.repos(s.db)

	acc, err := repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(current, acc.PasswordHash)
	if err != nil || !ok {
		return common.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := repo.SetPasswordHash(ctx, accountID, hash); err != nil {
		return err
	}
	if s.devices != nil {
		if err := s.devices.RevokeAll(ctx, accountID); err != nil {
			return fmt.Errorf("revoke devices: %w", err)
		}
	}

	s.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: acc.Username, Action: audit.PasswordChanged})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.repos(s.db).GetByID(ctx, id)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return s.repos(s.db).GetByUsername(ctx, username)
}

func (s *Service) List(ctx context.Context) ([]*Account, error) {
	return s.repos(s.db).List(ctx)
}
