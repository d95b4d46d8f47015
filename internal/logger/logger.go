// Package logger is the process-wide logger for chainfs commands and
// background workers.
//
// Lines go to stderr: commands like cat stream stored file bytes on stdout,
// and a log line in the middle of that stream would corrupt the payload.
// The level is a process global set once at startup from flags or
// configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level orders message severities. Messages below the configured level are
// dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to its Level, case-insensitively. Unknown
// names select LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// The mutex covers both fields and spans each write, so lines from the
// garbage collector's worker goroutine never interleave with lines from the
// command path.
var std = struct {
	mu    sync.Mutex
	level Level
	out   io.Writer
}{
	level: LevelInfo,
	out:   os.Stderr,
}

// SetLevel sets the minimum severity that gets written.
func SetLevel(name string) {
	std.mu.Lock()
	std.level = ParseLevel(name)
	std.mu.Unlock()
}

// SetOutput redirects log output, mainly so tests can capture it.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

func write(level Level, format string, v ...any) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if level < std.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(std.out, "[%s] [%s] %s\n", timestamp, level, fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	write(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	write(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	write(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	write(LevelError, format, v...)
}
