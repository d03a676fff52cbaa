package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/rackvault/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations use
// timex.Duration so files may say "15m" or give integer nanoseconds.
//
// It is a DTO only; values are copied into Config after decoding. Keys that
// are absent from the file keep the value already present in Config.
type FileConfig struct {
	DatabaseDriver       string         `json:"database_driver" toml:"database_driver" yaml:"database_driver"`
	DatabaseDSN          string         `json:"database_dsn" toml:"database_dsn" yaml:"database_dsn"`
	InstallSecret        string         `json:"install_secret" toml:"install_secret" yaml:"install_secret"`
	MaxAccounts          int            `json:"max_accounts" toml:"max_accounts" yaml:"max_accounts"`
	LockoutThreshold     int            `json:"lockout_threshold" toml:"lockout_threshold" yaml:"lockout_threshold"`
	LockoutDuration      timex.Duration `json:"lockout_duration" toml:"lockout_duration" yaml:"lockout_duration"`
	ChallengeTTL         timex.Duration `json:"challenge_ttl" toml:"challenge_ttl" yaml:"challenge_ttl"`
	ChallengeMaxAttempts int            `json:"challenge_max_attempts" toml:"challenge_max_attempts" yaml:"challenge_max_attempts"`
	EnrollmentTTL        timex.Duration `json:"enrollment_ttl" toml:"enrollment_ttl" yaml:"enrollment_ttl"`
	DeviceTrustTTL       timex.Duration `json:"device_trust_ttl" toml:"device_trust_ttl" yaml:"device_trust_ttl"`
	DeviceCookieName     string         `json:"device_cookie_name" toml:"device_cookie_name" yaml:"device_cookie_name"`
	DeviceCookieSecure   bool           `json:"device_cookie_secure" toml:"device_cookie_secure" yaml:"device_cookie_secure"`
	TOTPIssuer           string         `json:"totp_issuer" toml:"totp_issuer" yaml:"totp_issuer"`
	PasswordHashMemory   uint32         `json:"password_hash_memory" toml:"password_hash_memory" yaml:"password_hash_memory"`
	PasswordHashTime     uint32         `json:"password_hash_time" toml:"password_hash_time" yaml:"password_hash_time"`
	PasswordHashThreads  uint8          `json:"password_hash_threads" toml:"password_hash_threads" yaml:"password_hash_threads"`
	BackupTables         []string       `json:"backup_tables" toml:"backup_tables" yaml:"backup_tables"`
	S3Bucket             string         `json:"s3_bucket" toml:"s3_bucket" yaml:"s3_bucket"`
	S3Region             string         `json:"s3_region" toml:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint" toml:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3AccessKey          string         `json:"s3_access_key" toml:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey          string         `json:"s3_secret_key" toml:"s3_secret_key" yaml:"s3_secret_key"`
	S3Prefix             string         `json:"s3_prefix" toml:"s3_prefix" yaml:"s3_prefix"`
	LogLevel             string         `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFormat            string         `json:"log_format" toml:"log_format" yaml:"log_format"`
}

func toFile(c *Config) *FileConfig {
	return &FileConfig{
		DatabaseDriver:       c.DatabaseDriver,
		DatabaseDSN:          c.DatabaseDSN,
		InstallSecret:        c.InstallSecret,
		MaxAccounts:          c.MaxAccounts,
		LockoutThreshold:     c.LockoutThreshold,
		LockoutDuration:      timex.Duration{Duration: c.LockoutDuration},
		ChallengeTTL:         timex.Duration{Duration: c.ChallengeTTL},
		ChallengeMaxAttempts: c.ChallengeMaxAttempts,
		EnrollmentTTL:        timex.Duration{Duration: c.EnrollmentTTL},
		DeviceTrustTTL:       timex.Duration{Duration: c.DeviceTrustTTL},
		DeviceCookieName:     c.DeviceCookieName,
		DeviceCookieSecure:   c.DeviceCookieSecure,
		TOTPIssuer:           c.TOTPIssuer,
		PasswordHashMemory:   c.PasswordHashMemory,
		PasswordHashTime:     c.PasswordHashTime,
		PasswordHashThreads:  c.PasswordHashThreads,
		BackupTables:         c.BackupTables,
		S3Bucket:             c.S3Bucket,
		S3Region:             c.S3Region,
		S3BaseEndpoint:       c.S3BaseEndpoint,
		S3AccessKey:          c.S3AccessKey,
		S3SecretKey:          c.S3SecretKey,
		S3Prefix:             c.S3Prefix,
		LogLevel:             c.LogLevel,
		LogFormat:            c.LogFormat,
	}
}

func (f *FileConfig) apply(c *Config) {
	c.DatabaseDriver = f.DatabaseDriver
	c.DatabaseDSN = f.DatabaseDSN
	c.InstallSecret = f.InstallSecret
	c.MaxAccounts = f.MaxAccounts
	c.LockoutThreshold = f.LockoutThreshold
	c.LockoutDuration = f.LockoutDuration.Duration
	c.ChallengeTTL = f.ChallengeTTL.Duration
	c.ChallengeMaxAttempts = f.ChallengeMaxAttempts
	c.EnrollmentTTL = f.EnrollmentTTL.Duration
	c.DeviceTrustTTL = f.DeviceTrustTTL.Duration
	c.DeviceCookieName = f.DeviceCookieName
	c.DeviceCookieSecure = f.DeviceCookieSecure
	c.TOTPIssuer = f.TOTPIssuer
	c.PasswordHashMemory = f.PasswordHashMemory
	c.PasswordHashTime = f.PasswordHashTime
	c.PasswordHashThreads = f.PasswordHashThreads
	c.BackupTables = f.BackupTables
	c.S3Bucket = f.S3Bucket
	c.S3Region = f.S3Region
	c.S3BaseEndpoint = f.S3BaseEndpoint
	c.S3AccessKey = f.S3AccessKey
	c.S3SecretKey = f.S3SecretKey
	c.S3Prefix = f.S3Prefix
	c.LogLevel = f.LogLevel
	c.LogFormat = f.LogFormat
}

// parseFile overlays the file at path onto config. The decoder is chosen by
// extension: .toml, .yaml/.yml, anything else is read as JSON.
func parseFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	f := toFile(config)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.NewDecoder(bytes.NewReader(data)).Decode(f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, f)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(f)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	f.apply(config)
	return nil
}
