package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	events    []*Event
	insertErr error
}

func (f *fakeRepo) Insert(_ context.Context, e *Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRepo) Recent(_ context.Context, limit int) ([]*Event, error) {
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

func TestLogger_RecordFillsDefaults(t *testing.T) {
	repo := &fakeRepo{}
	l := NewLogger(repo, logging.Discard())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Record(context.Background(), Event{Action: LoginSuccess, Actor: "alice", AccountID: "a1"})

	require.Len(t, repo.events, 1)
	e := repo.events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixed, e.CreatedAt)
	assert.Equal(t, LoginSuccess, e.Action)
}

func TestLogger_RecordSwallowsWriteError(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	l := NewLogger(&fakeRepo{insertErr: errors.New("disk full")}, log)

	assert.NotPanics(t, func() {
		l.Record(context.Background(), Event{Action: LoginFailed, Actor: "mallory", IP: "1.2.3.4"})
	})
	out := buf.String()
	assert.True(t, strings.Contains(out, "audit write failed"), out)
	assert.True(t, strings.Contains(out, "disk full"), out)
}

func TestLogger_RecentDefaultLimit(t *testing.T) {
	repo := &fakeRepo{}
	l := NewLogger(repo, logging.Discard())
	for i := 0; i < 3; i++ {
		l.Record(context.Background(), Event{Action: VaultLock})
	}
	got, err := l.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
