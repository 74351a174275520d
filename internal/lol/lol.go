// Package lol is a small leveled logger used throughout the relay. Level
// names are printed in color to make scrollback scanning easier; each
// level's S method dumps values with go-spew instead of fmt so nested
// structures stay readable.
package lol

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

type Level int32

const (
	Fatal Level = iota
	Error
	Warn
	Info
	Debug
	Trace
)

var names = map[Level]string{
	Fatal: "FTL", Error: "ERR", Warn: "WRN",
	Info: "INF", Debug: "DBG", Trace: "TRC",
}

var colors = map[Level]*color.Color{
	Fatal: color.New(color.FgHiRed, color.Bold),
	Error: color.New(color.FgRed),
	Warn:  color.New(color.FgYellow),
	Info:  color.New(color.FgGreen),
	Debug: color.New(color.FgCyan),
	Trace: color.New(color.FgHiBlack),
}

// GetLevel parses a textual level name, defaulting to Info on no match.
func GetLevel(s string) Level {
	switch s {
	case "fatal":
		return Fatal
	case "error":
		return Error
	case "warn":
		return Warn
	case "info":
		return Info
	case "debug":
		return Debug
	case "trace":
		return Trace
	default:
		return Info
	}
}

var current atomic.Int32

func init() { current.Store(int32(Info)) }

// SetLevel sets the process-wide minimum level that will be printed.
func SetLevel(l Level) { current.Store(int32(l)) }

// Logger prints lines at a fixed level, gated by the process-wide minimum.
type Logger struct {
	level Level
	out   io.Writer
}

func newLogger(l Level) *Logger { return &Logger{level: l, out: os.Stderr} }

var (
	F = newLogger(Fatal)
	E = newLogger(Error)
	W = newLogger(Warn)
	I = newLogger(Info)
	D = newLogger(Debug)
	T = newLogger(Trace)
)

func (l *Logger) enabled() bool { return int32(l.level) <= current.Load() }

// F prints a formatted line at this logger's level.
func (l *Logger) F(format string, args ...any) {
	if !l.enabled() {
		return
	}
	l.print(fmt.Sprintf(format, args...))
}

// Ln prints its arguments space-joined at this logger's level.
func (l *Logger) Ln(args ...any) {
	if !l.enabled() {
		return
	}
	l.print(fmt.Sprintln(args...))
}

// S pretty-dumps its arguments with go-spew, for structures that don't
// stringify usefully.
func (l *Logger) S(args ...any) {
	if !l.enabled() {
		return
	}
	l.print(spew.Sdump(args...))
}

func (l *Logger) print(msg string) {
	c := colors[l.level]
	ts := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(l.out, "%s %s %s", ts, c.Sprint(names[l.level]), msg)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		_, _ = fmt.Fprintln(l.out)
	}
	if l.level == Fatal {
		os.Exit(1)
	}
}
