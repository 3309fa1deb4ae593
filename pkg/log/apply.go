package log

import (
	stdlog "log"
	"strings"
)

// Config selects a level and format for a process-wide logger.
type Config struct {
	Level  string // debug|info|warn|error|fatal
	Format string // text|json
}

// ApplyConfig builds a logger from textual config. Unknown values are
// errors; callers typically fall back to NewLogger defaults.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, &UnknownFormatError{Format: cfg.Format}
	}
	return NewLogger(
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(NewConsoleOutput()),
	), nil
}

// UnknownFormatError reports an unrecognized log format name.
type UnknownFormatError struct{ Format string }

func (e *UnknownFormatError) Error() string {
	return "log: unknown format " + e.Format
}

// RedirectStdLog routes the standard library's default logger (used by
// Pebble and some client libraries) through logger at info level.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{logger: logger})
}

type stdLogWriter struct{ logger Logger }

func (w stdLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.logger.Info(msg, Str("source", "stdlog"))
	}
	return len(p), nil
}
