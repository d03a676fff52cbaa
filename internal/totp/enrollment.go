package totp

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
)

type pending struct {
	secret  []byte
	expires time.Time
}

// Enrollments parks freshly generated secrets until the user proves their
// authenticator works. Entries expire after the TTL and are wiped.
type Enrollments struct {
	mu      sync.Mutex
	gate    *Gate
	ttl     time.Duration
	pending map[string]*pending
	now     func() time.Time
}

func NewEnrollments(gate *Gate, ttl time.Duration) *Enrollments {
	return &Enrollments{gate: gate, ttl: ttl, pending: map[string]*pending{}, now: time.Now}
}

// Begin generates a secret for accountID, replacing any earlier pending one.
func (e *Enrollments) Begin(accountID string) (string, error) {
	secret, err := e.gate.GenerateSecret()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked(accountID)
	e.pending[accountID] = &pending{secret: []byte(secret), expires: e.now().Add(e.ttl)}
	return secret, nil
}

// Confirm checks code against the pending secret. On success the slot is
// released and the secret returned for persistence. A wrong code keeps the
// slot so the user can retry until it expires.
func (e *Enrollments) Confirm(accountID, code string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[accountID]
	if !ok {
		return "", common.ErrEnrollmentNotFound
	}
	now := e.now()
	if !p.expires.After(now) {
		e.dropLocked(accountID)
		return "", common.ErrEnrollmentNotFound
	}
	if !e.gate.Verify(string(p.secret), code, now) {
		return "", common.ErrSecondFactorInvalid
	}

	secret := string(p.secret)
	e.dropLocked(accountID)
	return secret, nil
}

// Cancel discards a pending enrollment.
func (e *Enrollments) Cancel(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked(accountID)
}

// Sweep drops expired entries and returns how many were removed.
func (e *Enrollments) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	n := 0
	for id, p := range e.pending {
		if !p.expires.After(now) {
			e.dropLocked(id)
			n++
		}
	}
	return n
}

func (e *Enrollments) dropLocked(accountID string) {
	if p, ok := e.pending[accountID]; ok {
		common.WipeByteArray(p.secret)
		delete(e.pending, accountID)
	}
}
