package devicetrust

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/google/uuid"
)

// TokenBytes is the entropy of a device token; the cookie carries it as hex.
const TokenBytes = 32

// ErrTokenInvalid is returned by Validate for unknown, malformed or expired
// tokens.
var ErrTokenInvalid = errors.New("device token invalid")

// CookieConfig shapes the cookie handed to the browser.
type CookieConfig struct {
	Name   string
	Secure bool
	Path   string
}

// Service issues, validates and revokes remember-device tokens.
type Service struct {
	db     *sql.DB
	repos  RepositoryFactory
	ttl    time.Duration
	cookie CookieConfig
	audit  audit.Recorder
	now    func() time.Time
}

func NewService(db *sql.DB, repos RepositoryFactory, ttl time.Duration, cookie CookieConfig, rec audit.Recorder) *Service {
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Service{db: db, repos: repos, ttl: ttl, cookie: cookie, audit: rec, now: time.Now}
}

// HashToken returns the hex SHA-256 stored for token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func validFormat(token string) bool {
	if len(token) != 2*TokenBytes {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// Issue creates a token for accountID and returns the raw token together
// with the cookie to set. The raw token is never stored.
func (s *Service) Issue(ctx context.Context, accountID string) (string, *http.Cookie, error) {
	token, err := common.MakeRandHexString(TokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	now := s.now().UTC()
	t := &Token{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: HashToken(token),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repos(s.db).Create(ctx, t); err != nil {
		return "", nil, err
	}

	s.audit.Record(ctx, audit.Event{AccountID: accountID, Action: audit.DeviceTrustIssued})
	return token, s.Cookie(token), nil
}

// Validate returns the account the token belongs to and a refreshed cookie
// whose expiry has slid forward by the TTL. Expired tokens are deleted.
func (s *Service) Validate(ctx context.Context, token string) (string, *http.Cookie, error) {
	if !validFormat(token) {
		return "", nil, ErrTokenInvalid
	}

	repo := s.repos(s.db)
	hash := HashToken(token)

	t, err := repo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", nil, ErrTokenInvalid
		}
		return "", nil, err
	}

	now := s.now().UTC()
	if !t.ExpiresAt.After(now) {
		if _, err := repo.DeleteByHash(ctx, hash); err != nil {
			return "", nil, err
		}
		return "", nil, ErrTokenInvalid
	}

	if err := repo.Touch(ctx, t.ID, now.Add(s.ttl), now); err != nil {
		return "", nil, err
	}
	return t.AccountID, s.Cookie(token), nil
}

// RevokeForSession deletes the token presented by the current browser.
func (s *Service) RevokeForSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	n, err := s.repos(s.db).DeleteByHash(ctx, HashToken(token))
	if err != nil {
		return err
	}
	if n > 0 {
		s.audit.Record(ctx, audit.Event{Action: audit.DeviceTrustRevoked, Detail: "session"})
	}
	return nil
}

// RevokeAll deletes every token of accountID.
func (s *Service) RevokeAll(ctx context.Context, accountID string) error {
	n, err := s.repos(s.db).DeleteByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.audit.Record(ctx, audit.Event{AccountID: accountID, Action: audit.DeviceTrustRevoked, Detail: fmt.Sprintf("all (%d)", n)})
	}
	return nil
}

// PurgeExpired removes tokens whose expiry has passed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repos(s.db).DeleteExpired(ctx, s.now().UTC())
}

// Cookie builds the HttpOnly cookie carrying token.
func (s *Service) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    token,
		Path:     s.cookie.Path,
		MaxAge:   int(s.ttl / time.Second),
		Expires:  s.now().Add(s.ttl),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie expires the cookie in the browser.
func (s *Service) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     s.cookie.Path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
