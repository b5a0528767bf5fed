// Package observability provides structured logging for the finsight worker.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is a zerolog logger carrying pipeline fields.
type Logger struct {
	zl zerolog.Logger
}

// LogEvent is one entry under construction. Finish it with Msg or Msgf.
type LogEvent = zerolog.Event

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	ServiceName string
}

// NewLogger creates a Logger writing to cfg.Output, stdout by default.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	return &Logger{zl: ctx.Logger()}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Debug() *LogEvent { return l.zl.Debug() }
func (l *Logger) Info() *LogEvent  { return l.zl.Info() }
func (l *Logger) Warn() *LogEvent  { return l.zl.Warn() }
func (l *Logger) Error() *LogEvent { return l.zl.Error() }

// Fatal logs and exits the process.
func (l *Logger) Fatal() *LogEvent { return l.zl.Fatal() }

// WithRun scopes the logger to one pipeline run.
func (l *Logger) WithRun(taskID, runID string) *Logger {
	return l.With().Str("task_id", taskID).Str("run_id", runID).Logger()
}

// WithTask scopes the logger to a queued task.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.With().Str("task_id", taskID).Logger()
}

// WithOperation tags entries with the component that wrote them.
func (l *Logger) WithOperation(op string) *Logger {
	return l.With().Str("operation", op).Logger()
}

// With starts a child logger with extra fields.
func (l *Logger) With() *LoggerContext {
	return &LoggerContext{ctx: l.zl.With()}
}

// LoggerContext accumulates fields for a child logger.
type LoggerContext struct {
	ctx zerolog.Context
}

func (c *LoggerContext) Str(key, val string) *LoggerContext {
	c.ctx = c.ctx.Str(key, val)
	return c
}

func (c *LoggerContext) Int(key string, val int) *LoggerContext {
	c.ctx = c.ctx.Int(key, val)
	return c
}

// Logger returns the child logger.
func (c *LoggerContext) Logger() *Logger {
	return &Logger{zl: c.ctx.Logger()}
}

// parseLevel maps a configured level name, falling back to info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
