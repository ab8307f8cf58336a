package history

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger. Error events are logged at
// error level, everything else at info.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Send(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Type == EventError {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("event", string(e.Type)),
		slog.String("daemon", e.Record.Name),
		slog.String("state", e.Record.State),
	}
	if e.Record.PID > 0 {
		attrs = append(attrs, slog.Int("pid", e.Record.PID))
	}
	if e.Record.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", e.Record.Outcome))
	}
	if e.Record.Error != "" {
		attrs = append(attrs, slog.String("error", e.Record.Error))
	}
	s.log.LogAttrs(ctx, level, "daemon "+string(e.Type), attrs...)
	return nil
}
