// Package vault holds the in-memory vault session and the key-management
// operations around the shared vault master key.
package vault

import (
	"sync"

	"github.com/dmitrijs2005/rackvault/internal/common"
)

// state is Locked or Unlocked; nothing else implements it.
type state interface{ isState() }

type locked struct{}

type unlocked struct {
	accountID string
	key       []byte
}

func (locked) isState()   {}
func (unlocked) isState() {}

// Session is the per-login vault state passed explicitly through request
// handling. The zero value is locked. A Session is never persisted.
type Session struct {
	mu    sync.Mutex
	state state
}

func NewSession() *Session {
	return &Session{state: locked{}}
}

// IsUnlocked reports the current state.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.(unlocked)
	return ok
}

// AccountID returns the account that unlocked the session, or "".
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.state.(unlocked); ok {
		return u.accountID
	}
	return ""
}

// Lock zeroes the key and returns to the locked state. It reports whether
// the session was unlocked.
func (s *Session) Lock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLocked()
}

func (s *Session) lockLocked() bool {
	u, ok := s.state.(unlocked)
	if ok {
		common.WipeByteArray(u.key)
	}
	s.state = locked{}
	return ok
}

// unlock takes ownership of key.
func (s *Session) unlock(accountID string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
	s.state = unlocked{accountID: accountID, key: key}
}

// WithKey runs fn with the raw vault key, or fails with
// common.ErrVaultLocked. fn must not retain key: it is wiped on Lock.
func (s *Session) WithKey(fn func(key []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.(unlocked)
	if !ok {
		return common.ErrVaultLocked
	}
	return fn(u.key)
}
