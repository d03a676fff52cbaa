package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/rackvault/internal/logging"
	"github.com/pressly/goose/v3"
)

// gooseLogger forwards goose's printf-style output to a logging.Logger.
type gooseLogger struct {
	ctx context.Context
	log logging.Logger
}

func newGooseLogger(ctx context.Context, log logging.Logger) goose.Logger {
	if log == nil {
		return goose.NopLogger()
	}
	return &gooseLogger{ctx: ctx, log: log.With("component", "migrations")}
}

func (g *gooseLogger) Printf(format string, v ...any) {
	g.log.Info(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level and panics; goose only calls it from its CLI
// paths, never from UpContext.
func (g *gooseLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	g.log.Error(g.ctx, msg)
	panic(msg)
}
