package migration

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// LogAdapter routes goose and golang-migrate output through zerolog.
type LogAdapter struct {
	logger zerolog.Logger
}

func NewLogAdapter(logger zerolog.Logger) *LogAdapter {
	return &LogAdapter{
		logger: logger.With().Str("component", "migrations").Logger(),
	}
}

// Printf satisfies both goose.Logger and migrate.Logger.
func (a *LogAdapter) Printf(format string, v ...interface{}) {
	a.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level. Exiting is left to the caller of Run.
func (a *LogAdapter) Fatalf(format string, v ...interface{}) {
	a.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Verbose enables golang-migrate's per-step messages when debug logging is on.
func (a *LogAdapter) Verbose() bool {
	return a.logger.GetLevel() <= zerolog.DebugLevel
}
