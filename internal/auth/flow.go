package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/logging"
)

// Status is the outcome of a login step.
type Status int

const (
	StatusAuthenticated Status = iota + 1
	StatusChallengeRequired
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusChallengeRequired:
		return "challenge_required"
	default:
		return "unknown"
	}
}

// LoginResult carries no secret material. Challenge is set for
// StatusChallengeRequired; DeviceCookie is set when a remembered device was
// used (refreshed cookie) or a new one was issued.
type LoginResult struct {
	Status       Status
	Account      *accounts.Account
	Challenge    string
	DeviceCookie *http.Cookie
}

// DeviceTrust is the remember-device store as seen by the login flow.
type DeviceTrust interface {
	Issue(ctx context.Context, accountID string) (string, *http.Cookie, error)
	Validate(ctx context.Context, token string) (string, *http.Cookie, error)
}

// SecondFactor verifies a TOTP code for an account.
type SecondFactor interface {
	VerifyAccount(acc *accounts.Account, code string) (bool, error)
}

// Flow combines the password gate, remembered devices and the TOTP
// challenge. Every ambiguous outcome leaves the login challenged.
type Flow struct {
	db         *sql.DB
	repos      accounts.RepositoryFactory
	gate       *Gate
	challenges *Challenges
	devices    DeviceTrust
	totp       SecondFactor
	audit      audit.Recorder
	log        logging.Logger
}

func NewFlow(db *sql.DB, repos accounts.RepositoryFactory, gate *Gate, challenges *Challenges, devices DeviceTrust, totp SecondFactor, rec audit.Recorder, log logging.Logger) *Flow {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Flow{
		db:         db,
		repos:      repos,
		gate:       gate,
		challenges: challenges,
		devices:    devices,
		totp:       totp,
		audit:      rec,
		log:        log.With("component", "login"),
	}
}

// AbandonChallenge drops a pending second-factor challenge, e.g. when the
// user cancels the code prompt. The token is unusable afterwards.
func (f *Flow) AbandonChallenge(ctx context.Context, challenge string) {
	f.challenges.Discard(challenge)
	f.log.Debug(ctx, "second factor challenge abandoned")
}

// AttemptLogin checks the password and decides whether a second factor is
// needed. A valid device token for the same account skips the challenge.
func (f *Flow) AttemptLogin(ctx context.Context, username string, password []byte, ip, deviceToken string) (*LoginResult, error) {
	acc, err := f.gate.Attempt(ctx, username, password, ip)
	if err != nil {
		return nil, err
	}

	if !acc.TOTPEnabled {
		return &LoginResult{Status: StatusAuthenticated, Account: acc}, nil
	}

	if deviceToken != "" {
		if cookie, ok := f.trustedDevice(ctx, acc, deviceToken); ok {
			f.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: acc.Username, Action: audit.LoginDeviceTrusted, IP: ip})
			return &LoginResult{Status: StatusAuthenticated, Account: acc, DeviceCookie: cookie}, nil
		}
	}

	challenge, err := f.challenges.Issue(acc.ID)
	if err != nil {
		f.log.Error(ctx, "issue challenge failed", "account_id", acc.ID, "error", err)
		return nil, common.ErrorInternal
	}
	f.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: acc.Username, Action: audit.Login2FAChallenge, IP: ip})
	return &LoginResult{Status: StatusChallengeRequired, Account: acc, Challenge: challenge}, nil
}

func (f *Flow) trustedDevice(ctx context.Context, acc *accounts.Account, token string) (*http.Cookie, bool) {
	if f.devices == nil {
		return nil, false
	}
	accountID, cookie, err := f.devices.Validate(ctx, token)
	if err != nil {
		f.log.Debug(ctx, "device token not accepted", "account_id", acc.ID, "error", err)
		return nil, false
	}
	if accountID != acc.ID {
		f.log.Warn(ctx, "device token belongs to another account", "account_id", acc.ID)
		return nil, false
	}
	return cookie, true
}

// VerifySecondFactor completes a challenged login. With rememberDevice a
// device-trust cookie is issued; failing to issue it does not fail the
// login.
func (f *Flow) VerifySecondFactor(ctx context.Context, challenge, code string, rememberDevice bool, ip string) (*LoginResult, error) {
	var acc *accounts.Account

	accountID, err := f.challenges.Attempt(challenge, func(accountID string) (bool, error) {
		a, err := f.repos(f.db).GetByID(ctx, accountID)
		if err != nil {
			return false, err
		}
		acc = a
		ok, err := f.totp.VerifyAccount(a, code)
		if err != nil {
			f.log.Error(ctx, "second factor check failed", "account_id", accountID, "error", err)
		}
		return ok, err
	})
	if err != nil {
		if acc != nil && errors.Is(err, common.ErrSecondFactorInvalid) {
			f.audit.Record(ctx, audit.Event{AccountID: acc.ID, Actor: acc.Username, Action: audit.Login2FAFailed, IP: ip})
		}
		return nil, err
	}

	f.audit.Record(ctx, audit.Event{AccountID: accountID, Actor: acc.Username, Action: audit.Login2FASuccess, IP: ip})
	result := &LoginResult{Status: StatusAuthenticated, Account: acc}

	if rememberDevice && f.devices != nil {
		_, cookie, err := f.devices.Issue(ctx, accountID)
		if err != nil {
			f.log.Error(ctx, "issue device token failed", "account_id", accountID, "error", err)
		} else {
			result.DeviceCookie = cookie
		}
	}
	return result, nil
}
