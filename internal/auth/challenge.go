package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// challengeClaims identify a pending second-factor challenge. Subject is the
// account id, ID the server-side record key.
type challengeClaims struct {
	jwt.RegisteredClaims
}

type pendingChallenge struct {
	accountID string
	attempts  int
	expires   time.Time
}

// Challenges issues signed challenge tokens and keeps the server-side record
// (account, attempt counter) each token refers to. A record is discarded on
// expiry, on success, or when the attempt cap is reached.
type Challenges struct {
	mu          sync.Mutex
	key         []byte
	ttl         time.Duration
	maxAttempts int
	pending     map[string]*pendingChallenge
	now         func() time.Time
}

func NewChallenges(signingKey []byte, ttl time.Duration, maxAttempts int) *Challenges {
	return &Challenges{
		key:         signingKey,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		pending:     map[string]*pendingChallenge{},
		now:         time.Now,
	}
}

// Issue starts a challenge for accountID.
func (c *Challenges) Issue(accountID string) (string, error) {
	now := c.now()
	jti := uuid.NewString()
	expires := now.Add(c.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, challengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.pending[jti] = &pendingChallenge{accountID: accountID, expires: expires}
	c.mu.Unlock()
	return signed, nil
}

func (c *Challenges) parse(token string) (*challengeClaims, error) {
	claims := &challengeClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrSecondFactorExpired
		}
		return nil, common.ErrSecondFactorInvalid
	}
	return claims, nil
}

// Attempt runs verify for the challenge's account. A true result completes
// the challenge and returns the account id. A false result or an error from
// verify counts as a failed attempt and yields common.ErrSecondFactorInvalid.
// Unknown, expired or exhausted challenges yield
// common.ErrSecondFactorExpired.
func (c *Challenges) Attempt(token string, verify func(accountID string) (bool, error)) (string, error) {
	claims, err := c.parse(token)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[claims.ID]
	if !ok || p.accountID != claims.Subject {
		return "", common.ErrSecondFactorExpired
	}
	if !p.expires.After(c.now()) {
		delete(c.pending, claims.ID)
		return "", common.ErrSecondFactorExpired
	}

	ok, err = verify(p.accountID)
	if err == nil && ok {
		delete(c.pending, claims.ID)
		return p.accountID, nil
	}

	p.attempts++
	if p.attempts >= c.maxAttempts {
		delete(c.pending, claims.ID)
	}
	return "", common.ErrSecondFactorInvalid
}

// Discard drops the record behind token, if any.
func (c *Challenges) Discard(token string) {
	claims, err := c.parse(token)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.pending, claims.ID)
	c.mu.Unlock()
}

// Sweep drops expired records and returns how many were removed.
func (c *Challenges) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, p := range c.pending {
		if !p.expires.After(now) {
			delete(c.pending, id)
			n++
		}
	}
	return n
}
