// Package logging adds severity streams on top of the standard logger the
// rest of the server is built around.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

type Level int

const (
	LevelVerbose Level = iota
	LevelInfo
	LevelAction
	LevelWarning
	LevelError
)

var levelNames = map[Level]string{
	LevelVerbose: "VERBOSE",
	LevelInfo:    "INFO",
	LevelAction:  "ACTION",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verbose", "debug":
		return LevelVerbose, nil
	case "", "info":
		return LevelInfo, nil
	case "action":
		return LevelAction, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is safe for concurrent use; a nil *Logger discards everything.
type Logger struct {
	base *log.Logger
	min  Level
}

func New(base *log.Logger, min Level) *Logger {
	return &Logger{base: base, min: min}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return New(log.New(io.Discard, "", 0), LevelError+1)
}

// With returns a logger that shares the minimum level but prefixes every
// line with prefix.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{base: log.New(l.base.Writer(), l.base.Prefix()+prefix, l.base.Flags()), min: l.min}
}

func (l *Logger) Std() *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l.base
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.min
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	_ = l.base.Output(3, level.String()+": "+fmt.Sprintf(format, args...))
}

func (l *Logger) Verbosef(format string, args ...any) { l.logf(LevelVerbose, format, args...) }
func (l *Logger) Infof(format string, args ...any)    { l.logf(LevelInfo, format, args...) }
func (l *Logger) Actionf(format string, args ...any)  { l.logf(LevelAction, format, args...) }
func (l *Logger) Warnf(format string, args ...any)    { l.logf(LevelWarning, format, args...) }
func (l *Logger) Errorf(format string, args ...any)   { l.logf(LevelError, format, args...) }
