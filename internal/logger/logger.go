// Package logger is the leveled printf-style logger used across framingd.
//
// Output is either a plain text line per entry:
//
//	[2006-01-02 15:04:05] [INFO] message
//
// or a JSON object per line when the format is "json".
package logger

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

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

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	currentLevel atomic.Int32

	mu         sync.RWMutex
	out        io.Writer = os.Stdout
	format               = "text"
	textLogger           = stdlog.New(os.Stdout, "", 0)
	jsonLogger *slog.Logger
	outFile    *os.File
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetFormat selects "text" or "json" output.
func SetFormat(f string) error {
	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return fmt.Errorf("unknown log format %q", f)
	}

	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuild()
	return nil
}

// SetOutput directs logs to "stdout", "stderr" or a file path opened for
// appending. A previously opened log file is closed.
func SetOutput(output string) error {
	var w io.Writer
	var f *os.File
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		var err error
		f, err = os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}

	mu.Lock()
	prev := outFile
	out, outFile = w, f
	rebuild()
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// SetWriter directs logs to w. Used by tests to capture output.
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	textLogger = stdlog.New(out, "", 0)
	if format == "json" {
		// The slog level gate stays at debug; filtering happens in log.
		jsonLogger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		jsonLogger = nil
	}
}

func log(level Level, msgFormat string, v ...any) {
	if level < GetLevel() {
		return
	}

	message := fmt.Sprintf(msgFormat, v...)

	mu.RLock()
	defer mu.RUnlock()

	if jsonLogger != nil {
		jsonLogger.Log(context.Background(), level.slogLevel(), message)
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	textLogger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
