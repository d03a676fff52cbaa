// Package config handles configuration for rackvault, including defaults,
// an optional JSON/TOML/YAML file overlay and command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/flagx"
)

// Config holds runtime settings for the vault core.
//
// InstallSecret is the per-installation secret the system key (TOTP secret
// encryption, challenge signing) is derived from. It has no default and must
// be provided. Password hash parameters are Argon2id cost settings; Memory is
// in KiB.
type Config struct {
	DatabaseDriver string
	DatabaseDSN    string
	InstallSecret  string

	MaxAccounts          int
	LockoutThreshold     int
	LockoutDuration      time.Duration
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	EnrollmentTTL        time.Duration
	DeviceTrustTTL       time.Duration
	DeviceCookieName     string
	DeviceCookieSecure   bool
	TOTPIssuer           string

	PasswordHashMemory  uint32
	PasswordHashTime    uint32
	PasswordHashThreads uint8

	BackupTables []string

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	S3Prefix       string

	LogLevel  string
	LogFormat string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "file:rackvault.db"
	c.InstallSecret = ""
	c.MaxAccounts = common.DefaultMaxAccounts
	c.LockoutThreshold = common.DefaultLockoutThreshold
	c.LockoutDuration = common.DefaultLockoutDuration
	c.ChallengeTTL = common.DefaultChallengeTTL
	c.ChallengeMaxAttempts = common.DefaultChallengeMaxAttempts
	c.EnrollmentTTL = common.DefaultEnrollmentTTL
	c.DeviceTrustTTL = common.DefaultDeviceTrustTTL
	c.DeviceCookieName = "rackvault_device"
	c.DeviceCookieSecure = true
	c.TOTPIssuer = "rackvault"
	c.PasswordHashMemory = 64 * 1024
	c.PasswordHashTime = 4
	c.PasswordHashThreads = 1
	c.BackupTables = []string{"hosts", "credentials"}
	c.S3Bucket = "rackvault-backups"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3AccessKey = ""
	c.S3SecretKey = ""
	c.S3Prefix = "backups/"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// Validate reports settings the core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.InstallSecret == "" {
		errs = append(errs, errors.New("install secret must be set"))
	} else if len(c.InstallSecret) < 16 {
		errs = append(errs, errors.New("install secret must be at least 16 characters"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn must be set"))
	}
	if c.MaxAccounts < 1 || c.MaxAccounts > common.DefaultMaxAccounts {
		errs = append(errs, fmt.Errorf("max accounts must be between 1 and %d, got %d", common.DefaultMaxAccounts, c.MaxAccounts))
	}
	if c.LockoutThreshold < 1 {
		errs = append(errs, fmt.Errorf("lockout threshold must be positive, got %d", c.LockoutThreshold))
	}
	if c.ChallengeMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("challenge max attempts must be positive, got %d", c.ChallengeMaxAttempts))
	}
	for name, d := range map[string]time.Duration{
		"lockout duration": c.LockoutDuration,
		"challenge ttl":    c.ChallengeTTL,
		"enrollment ttl":   c.EnrollmentTTL,
		"device trust ttl": c.DeviceTrustTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.PasswordHashMemory < 8*uint32(c.PasswordHashThreads) || c.PasswordHashTime < 1 || c.PasswordHashThreads < 1 {
		errs = append(errs, errors.New("invalid password hash parameters"))
	}
	if c.DeviceCookieName == "" {
		errs = append(errs, errors.New("device cookie name must be set"))
	}
	return errors.Join(errs...)
}

// Load builds a Config by applying defaults, then overlaying values from an
// optional config file (-c / -config) and finally from the short flags in
// args.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := flagx.ConfigFileFlag(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
