// Package audit records security-relevant events (logins, vault unlocks,
// second-factor changes, backups) to the audit_log table and mirrors them
// to the structured logger. Events carry actor and client IP, never secrets.
package audit

import "time"

// Action names an audited event.
type Action string

const (
	LoginSuccess           Action = "login_success"
	LoginFailed            Action = "login_failed"
	LoginLocked            Action = "login_locked"
	Login2FAChallenge      Action = "login_2fa_challenge"
	Login2FASuccess        Action = "login_2fa_success"
	Login2FAFailed         Action = "login_2fa_failed"
	LoginDeviceTrusted     Action = "login_device_trusted"
	VaultUnlock            Action = "vault_unlock"
	VaultUnlockFailed      Action = "vault_unlock_failed"
	VaultLock              Action = "vault_lock"
	VaultInitialized       Action = "vault_initialized"
	VaultKeyShared         Action = "vault_key_shared"
	VaultPassphraseChanged Action = "vault_passphrase_changed"
	TOTPEnabled            Action = "totp_enabled"
	TOTPDisabled           Action = "totp_disabled"
	DeviceTrustIssued      Action = "device_trust_issued"
	DeviceTrustRevoked     Action = "device_trust_revoked"
	PasswordChanged        Action = "password_changed"
	BackupExport           Action = "backup_export"
	BackupImport           Action = "backup_import"
	BackupImportFailed     Action = "backup_import_failed"
	Logout                 Action = "logout"
)

// Event is one audit_log row.
type Event struct {
	ID        string
	AccountID string
	Actor     string
	Action    Action
	IP        string
	Detail    string
	CreatedAt time.Time
}
