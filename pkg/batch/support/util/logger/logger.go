// Package logger provides the level-filtered logging used across the chunkflow engine.
// It wraps the standard `log` package; partitions log from many goroutines, so the
// active level is held atomically.
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel is a type representing the logging level.
type LogLevel int32

const (
	// LevelDebug outputs detailed diagnostics such as per-item retry attempts.
	LevelDebug LogLevel = iota
	// LevelInfo outputs lifecycle messages (step started, chunk committed, partition finished).
	LevelInfo
	// LevelWarn outputs recoverable problems (skips, retries, rejected partitions).
	LevelWarn
	// LevelError outputs failures that end a step or job.
	LevelError
	// LevelFatal outputs a message and terminates the process.
	LevelFatal
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// ParseLevel converts a level name ("DEBUG", "INFO", "WARN", "ERROR", "FATAL", case-insensitive)
// into a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level '%s'", level)
	}
}

// SetLogLevel sets the global log level. Unknown names fall back to INFO.
func SetLogLevel(level string) {
	lvl, err := ParseLevel(level)
	if err != nil {
		log.Printf("[WARN] %v. Defaulting to INFO level.", err)
	}
	currentLevel.Store(int32(lvl))
}

// GetLogLevel returns the active log level.
func GetLogLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetLevel sets the global log level.
func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

// SetOutput redirects every logger function to w.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(level LogLevel) bool {
	return LogLevel(currentLevel.Load()) <= level
}

// Debugf outputs a DEBUG level message.
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Infof outputs an INFO level message.
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warnf outputs a WARN level message.
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

// Errorf outputs an ERROR level message.
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf outputs a FATAL level message and terminates the program with os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
