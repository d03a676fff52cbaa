// Package logging is the structured log surface shared by rackvault's
// services, the migration runner and the vaultadmin CLI. The only backend
// is log/slog; see New.
package logging

import "context"

// Logger writes leveled records with alternating key/value attributes:
//
//	log.Warn(ctx, "second factor rejected", "account_id", id, "attempt", n)
//
// Secrets, passphrases and decrypted fields must never be passed as
// attributes.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With binds args to every record the returned logger writes.
	With(args ...any) Logger
}
