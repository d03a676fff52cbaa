package common

import "time"

// DefaultMaxAccounts is the hard cap on accounts per installation.
const DefaultMaxAccounts = 2

// Lockout policy defaults: a fixed window, not an adaptive backoff.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// Second factor defaults.
const (
	DefaultChallengeTTL         = 300 * time.Second
	DefaultChallengeMaxAttempts = 5
	DefaultEnrollmentTTL        = 10 * time.Minute
)

// DefaultDeviceTrustTTL is the sliding lifetime of a remember-device token.
const DefaultDeviceTrustTTL = 15 * 24 * time.Hour
