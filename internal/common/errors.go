// Package common defines shared constants, sentinel errors and small helpers
// used across the rackvault components. Callers should use errors.Is / errors.As
// to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Authentication errors. Unknown user and wrong password share one value.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")

	// Second-factor errors.
	ErrSecondFactorExpired = errors.New("second factor challenge expired")
	ErrSecondFactorInvalid = errors.New("second factor verification failed, please retry")
	ErrEnrollmentNotFound  = errors.New("no pending second factor enrollment")

	// Vault errors.
	ErrVaultLocked             = errors.New("vault is locked")
	ErrWrongVaultPassphrase    = errors.New("wrong vault passphrase")
	ErrDecryptionFailed        = errors.New("decryption failed")
	ErrVaultNotInitialized     = errors.New("vault is not initialized")
	ErrVaultAlreadyInitialized = errors.New("vault is already initialized")

	// Backup errors.
	ErrBackupFormatInvalid     = errors.New("backup format invalid")
	ErrBackupDecryptionFailed  = errors.New("backup decryption failed")
	ErrImportTransactionFailed = errors.New("backup import transaction failed")

	// Account policy errors.
	ErrAccountLimitReached = errors.New("account limit reached")
)

// AccountLockedError reports a login refused because of an active lockout.
// It matches ErrAccountLocked with errors.Is.
type AccountLockedError struct {
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.MinutesRemaining)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
