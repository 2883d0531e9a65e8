// Package logger provides the leveled logger shared by every component.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// Debug level for detailed troubleshooting
	Debug LogLevel = iota
	// Info level for general operational entries
	Info
	// Warn level for recoverable data problems (skipped frames, substituted pairs)
	Warn
	// Error level for failed captures and setup errors
	Error
)

var levelNames = map[LogLevel]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Config holds logger configuration
type Config struct {
	// LogLevel sets the minimum level to log
	LogLevel LogLevel
	// LogFile is the path to the log file. If empty, logs go to Output only
	LogFile string
	// MaxSizeMB is the size in megabytes at which the log file is rotated
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep
	MaxBackups int
	// MaxAgeDays is the number of days to keep rotated files
	MaxAgeDays int
	// Output replaces stdout when set
	Output io.Writer
}

// Logger is a leveled wrapper around the standard library logger.
type Logger struct {
	loggers map[LogLevel]*log.Logger
	level   LogLevel
	mu      sync.Mutex
	rotator *lumberjack.Logger
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a new logger instance
func NewLogger(config Config) (*Logger, error) {
	var writers []io.Writer
	if config.Output != nil {
		writers = append(writers, config.Output)
	} else {
		writers = append(writers, os.Stdout)
	}

	var rotator *lumberjack.Logger
	if config.LogFile != "" {
		config.LogFile = filepath.Clean(config.LogFile)
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
		}
		writers = append(writers, rotator)
	}

	out := io.MultiWriter(writers...)
	flags := log.Ldate | log.Ltime | log.Lmicroseconds

	l := &Logger{
		loggers: make(map[LogLevel]*log.Logger, len(levelNames)),
		level:   config.LogLevel,
		rotator: rotator,
	}
	for level, name := range levelNames {
		l.loggers[level] = log.New(out, name+": ", flags)
	}
	return l, nil
}

// Initialize builds a logger from config and installs it as the default.
func Initialize(config Config) error {
	l, err := NewLogger(config)
	if err != nil {
		return err
	}
	SetDefault(l)
	return nil
}

// SetDefault replaces the default logger and returns the previous one.
func SetDefault(l *Logger) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultLogger
	defaultLogger = l
	return prev
}

// GetLogger returns the default logger, creating a stdout logger at info
// level on first use.
func GetLogger() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger, _ = NewLogger(Config{LogLevel: Info})
	}
	return defaultLogger
}

// Close releases the rotated log file, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loggers[level].Output(3, fmt.Sprintf(format, v...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) { l.logf(Debug, format, v...) }

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) { l.logf(Info, format, v...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) { l.logf(Warn, format, v...) }

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) { l.logf(Error, format, v...) }

// Debugf logs on the default logger.
func Debugf(format string, v ...interface{}) { GetLogger().logf(Debug, format, v...) }

// Infof logs on the default logger.
func Infof(format string, v ...interface{}) { GetLogger().logf(Info, format, v...) }

// Warnf logs on the default logger.
func Warnf(format string, v ...interface{}) { GetLogger().logf(Warn, format, v...) }

// Errorf logs on the default logger.
func Errorf(format string, v ...interface{}) { GetLogger().logf(Error, format, v...) }

// ParseLogLevel converts a string level to LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}
