// Package logger is the process-wide leveled logger. Output goes to a
// size-rotated file; until Init is called everything is discarded.
package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a level name to a Level, defaulting to debug.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelDebug
	}
}

// Rotation controls the rotating file sink.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation mirrors what long-running services in production use.
var DefaultRotation = Rotation{MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 30, Compress: true}

var (
	globalLogger *log.Logger
	sink         io.WriteCloser
	minLevel     = LevelDebug
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	return InitWithRotation(logPath, DefaultRotation)
}

// InitWithRotation initializes the global logger with explicit rotation settings.
func InitWithRotation(logPath string, r Rotation) error {
	return InitWriter(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   r.Compress,
	})
}

// InitWriter points the global logger at an arbitrary sink.
func InitWriter(w io.WriteCloser) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous sink if exists
	if sink != nil {
		sink.Close()
	}

	sink = w
	globalLogger = log.New(w, "", log.Ltime|log.Lmicroseconds)
	return nil
}

// SetLevel drops messages below l.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// Close closes the log sink.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if sink != nil {
		sink.Close()
		sink = nil
	}
	globalLogger = nil
}

func logf(l Level, prefix, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil && l >= minLevel {
		globalLogger.Printf(prefix+format, v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	logf(LevelInfo, "[INFO] ", format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	logf(LevelDebug, "[DEBUG] ", format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	logf(LevelError, "[ERROR] ", format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	logf(LevelWarn, "[WARN] ", format, v...)
}

// GetWriter returns the underlying writer for request logging.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if sink != nil {
		return lockedWriter{sink}
	}
	return io.Discard
}

// lockedWriter serializes writes from other packages with our own.
type lockedWriter struct {
	w io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	return lw.w.Write(p)
}
