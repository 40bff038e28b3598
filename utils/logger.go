package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Logger provides leveled printf-style logging throughout the application.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger

	colour      bool
	debugOn     bool
	fieldPrefix string
}

// NewLogger creates a Logger writing to stdout/stderr. Debug output is enabled
// when LOG_LEVEL=debug.
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr, strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"))
}

// NewLoggerTo creates a Logger over arbitrary writers. Colour is only used when
// the writer is a terminal.
func NewLoggerTo(out, errOut io.Writer, debug bool) *Logger {
	flags := 0
	return &Logger{
		info:    log.New(out, "", flags),
		warn:    log.New(out, "", flags),
		err:     log.New(errOut, "", flags),
		debug:   log.New(out, "", flags),
		colour:  isTerminal(out),
		debugOn: debug,
	}
}

// With returns a logger that prefixes every message with the given field,
// e.g. "pass=3f2a".
func (l *Logger) With(field string) *Logger {
	clone := *l
	if clone.fieldPrefix != "" {
		clone.fieldPrefix += " "
	}
	clone.fieldPrefix += field
	return &clone
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) line(level, ansi, format string) string {
	label := level
	if l.colour {
		label = ansi + level + "\033[0m"
	}
	if l.fieldPrefix != "" {
		format = "(" + l.fieldPrefix + ") " + format
	}
	return fmt.Sprintf("[%s] %s %s\n", l.timestamp(), label, format)
}

func (l *Logger) Info(format string, args ...any) {
	l.info.Printf(l.line("INFO ", "\033[32m", format), args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.warn.Printf(l.line("WARN ", "\033[33m", format), args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Printf(l.line("ERROR", "\033[31m", format), args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debugOn {
		return
	}
	l.debug.Printf(l.line("DEBUG", "\033[36m", format), args...)
}
