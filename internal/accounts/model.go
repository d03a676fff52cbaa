// Package accounts stores the (at most two) operator accounts of an
// installation together with their lockout counters, wrapped vault key and
// second-factor settings.
package accounts

import "time"

// Roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Account is one row of the accounts table. Empty strings and zero times
// stand for NULL columns.
type Account struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	Role                  string
	VaultKeyWrapped       string
	VaultPasswordVerifier string
	TOTPSecretWrapped     string
	TOTPEnabled           bool
	FailedAttemptCount    int
	LockedUntil           time.Time
	LastLoginAt           time.Time
	LastLoginIP           string
	CreatedAt             time.Time
}

// IsLocked reports whether a lockout is in force at now.
func (a *Account) IsLocked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && a.LockedUntil.After(now)
}

// HasVaultKey reports whether the account owns a wrapped copy of the vault key.
func (a *Account) HasVaultKey() bool {
	return a.VaultKeyWrapped != ""
}
