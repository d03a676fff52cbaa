package totp

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
)

// QRSize is the edge length of enrollment QR codes in pixels.
const QRSize = 256

// Enrollment is what the user needs to add the account to an authenticator.
type Enrollment struct {
	Secret string
	URI    string
	QRPNG  []byte
}

// Service wires the gate, the pending enrollments and the encrypted secret
// stored on the account.
type Service struct {
	db          *sql.DB
	repos       accounts.RepositoryFactory
	gate        *Gate
	box         *Box
	enrollments *Enrollments
	devices     accounts.DeviceRevoker
	audit       audit.Recorder
	now         func() time.Time
}

func NewService(db *sql.DB, repos accounts.RepositoryFactory, gate *Gate, box *Box, enrollments *Enrollments, devices accounts.DeviceRevoker, rec audit.Recorder) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{
		db:          db,
		repos:       repos,
		gate:        gate,
		box:         box,
		enrollments: enrollments,
		devices:     devices,
		audit:       rec,
		now:         time.Now,
	}
}

// BeginEnrollment starts phase one for accountID.
func (s *Service) BeginEnrollment(ctx context.Context, accountID string) (*Enrollment, error) {
	acc, err := s.repos(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	secret, err := s.enrollments.Begin(accountID)
	if err != nil {
		return nil, err
	}
	uri, err := s.gate.EnrollmentURI(secret, acc.Username)
	if err != nil {
		return nil, err
	}
	qr, err := s.gate.QRCode(secret, acc.Username, QRSize)
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: secret, URI: uri, QRPNG: qr}, nil
}

// ConfirmEnrollment finishes phase two: a valid code stores the encrypted
// secret and turns the second factor on.
func (s *Service) ConfirmEnrollment(ctx context.Context, accountID, code string) error {
	secret, err := s.enrollments.Confirm(accountID, code)
	if err != nil {
		return err
	}
	sealed, err := s.box.Seal(secret)
	if err != nil {
		return err
	}
	if err := s.repos(s.db).SetTOTP(ctx, accountID, sealed, true); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{AccountID: accountID, Action: audit.TOTPEnabled})
	return nil
}

// CancelEnrollment drops a pending enrollment of accountID. Nothing was
// persisted yet, so this only forgets the unconfirmed secret.
func (s *Service) CancelEnrollment(accountID string) {
	s.enrollments.Cancel(accountID)
}

// Disable turns the second factor off after checking a current code and
// revokes all remembered devices.
func (s *Service) Disable(ctx context.Context, accountID, code string) error {
	repo := s.repos(s.db)
	acc, err := repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !acc.TOTPEnabled {
		return nil
	}
	ok, err := s.VerifyAccount(acc, code)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrSecondFactorInvalid
	}
	if err := repo.SetTOTP(ctx, accountID, "", false); err != nil {
		return err
	}
	if s.devices != nil {
		if err := s.devices.RevokeAll(ctx, accountID); err != nil {
			return err
		}
	}
	s.audit.Record(ctx, audit.Event{AccountID: accountID, Actor: acc.Username, Action: audit.TOTPDisabled})
	return nil
}

// VerifyAccount checks code against the account's stored secret at the
// current time.
func (s *Service) VerifyAccount(acc *accounts.Account, code string) (bool, error) {
	if !acc.TOTPEnabled || acc.TOTPSecretWrapped == "" {
		return false, errors.New("second factor not enabled")
	}
	secret, err := s.box.Open(acc.TOTPSecretWrapped)
	if err != nil {
		return false, err
	}
	return s.gate.Verify(secret, code, s.now()), nil
}

// Sweep drops expired pending enrollments.
func (s *Service) Sweep() int {
	return s.enrollments.Sweep()
}
