package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Field name constants shared across every component's child logger.
const (
	FieldModule     = "module"
	FieldIntentID   = "intent_id"
	FieldSolutionID = "solution_id"
	FieldCorrelation = "correlation_id"
	FieldCursor     = "cursor"
)

// New builds the root logger. When jsonOutput is false, writer is wrapped in
// a zerolog.ConsoleWriter for human-readable local runs.
func New(writer io.Writer, level zerolog.Level, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Caller().Logger()
}

// Module returns a child logger tagged with the owning component's name, the
// convention every long-lived component (ingestor, coordinator, pipeline,
// publisher) follows so log lines can be filtered by module.
func Module(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str(FieldModule, name).Logger()
}
