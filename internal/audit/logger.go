package audit

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/google/uuid"
)

// Recorder is what the security services depend on.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Logger writes events to a Repository and mirrors them to the structured
// log. Write failures are logged and swallowed: an audit outage must not
// change the outcome of a login.
type Logger struct {
	repo Repository
	log  logging.Logger
	now  func() time.Time
}

func NewLogger(repo Repository, log logging.Logger) *Logger {
	return &Logger{repo: repo, log: log.With("component", "audit"), now: time.Now}
}

func (l *Logger) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	l.log.Info(ctx, "audit", "action", string(e.Action), "account_id", e.AccountID, "actor", e.Actor, "ip", e.IP)

	if err := l.repo.Insert(ctx, &e); err != nil {
		l.log.Error(ctx, "audit write failed", "action", string(e.Action), "error", err)
	}
}

// Recent lists the newest events first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.repo.Recent(ctx, limit)
}

// Nop discards events. Used by tests and tools that do not audit.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
