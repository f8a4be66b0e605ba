package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type (
	LogLevel string
	Fields   map[string]any
)

const (
	DebugLogLevel LogLevel = "debug"
	InfoLogLevel  LogLevel = "info"
	WarnLogLevel  LogLevel = "warn"
	ErrorLogLevel LogLevel = "error"
	FatalLogLevel LogLevel = "fatal"
	PanicLogLevel LogLevel = "panic"
)

// LoggerConfig configures the rotating/console logger used throughout
// the proxy: every component that logs (pipeline, server, cmd/proxy) shares
// one Logger built from a single LoggerConfig at startup.
type LoggerConfig struct {
	Level       LogLevel
	Development bool
	Service     string // tagged onto every log line; defaults to "rpcache-proxy"

	LogFile    string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Logger is the structured logging contract every component depends on
// through an interface, not a concrete zerolog type, so tests can supply
// a fake.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)
	Panic(msg string, fields ...any)
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Cleanup()
}

type logger struct {
	zl          zerolog.Logger
	fields      Fields
	mu          sync.RWMutex
	pool        *sync.Pool
	lumberjack  *lumberjack.Logger
	development bool
}

var fieldsPool = &sync.Pool{
	New: func() any { return make(Fields, 6) },
}

// NewLogger builds the shared Logger: console output with color in
// development, a rotating file plus stderr in production.
func NewLogger(config *LoggerConfig) Logger {
	if config == nil {
		config = &LoggerConfig{
			Level:       DebugLogLevel,
			Development: true,
			Service:     "rpcache-proxy",
			LogFile:     "./logs/rpcache-proxy.log",
			MaxSize:     100,
			MaxBackups:  3,
			MaxAge:      28,
			Compress:    true,
		}
	}
	service := config.Service
	if service == "" {
		service = "rpcache-proxy"
	}

	var (
		output io.Writer
		lumber *lumberjack.Logger
	)
	if config.Development {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	} else {
		lumber = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		output = io.MultiWriter(lumber, os.Stderr)
	}

	zerolog.SetGlobalLevel(zerologLevel(config.Level))

	zl := zerolog.New(output).
		With().
		Timestamp().
		Str("service", service).
		CallerWithSkipFrameCount(4).
		Logger()

	return &logger{
		zl:          zl,
		fields:      make(Fields),
		pool:        fieldsPool,
		lumberjack:  lumber,
		development: config.Development,
	}
}

// WithFields returns a new Logger carrying fields merged on top of the
// receiver's own, leaving the receiver untouched.
func (l *logger) WithFields(fields Fields) Logger {
	merged := l.snapshotFields()
	for k, v := range fields {
		merged[k] = v
	}
	return &logger{zl: l.zl, fields: merged, pool: l.pool}
}

// WithError returns a new Logger carrying the receiver's fields plus an
// "error" field set to err.Error().
func (l *logger) WithError(err error) Logger {
	merged := l.snapshotFields()
	merged["error"] = err.Error()
	return &logger{zl: l.zl, fields: merged, pool: l.pool}
}

// snapshotFields copies the receiver's fields into a pooled map, leaving
// the receiver's own map in place; callers take ownership of the returned
// map.
func (l *logger) snapshotFields() Fields {
	dst := l.pool.Get().(Fields)
	l.mu.RLock()
	for k, v := range l.fields {
		dst[k] = v
	}
	l.mu.RUnlock()
	return dst
}

func (l *logger) releaseFields() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fields != nil {
		clear(l.fields)
		l.pool.Put(l.fields)
		l.fields = nil
	}
}

// emit writes one log line at level, accepting fields either as a single
// Fields{...} map in fields[0] (the idiom every call site in this repo
// uses) or as a flat key/value variadic.
func (l *logger) emit(level zerolog.Level, msg string, fields ...any) {
	event := l.zl.WithLevel(level)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(fields) == 1 {
		if f, ok := fields[0].(Fields); ok {
			for k, v := range f {
				event.Interface(k, v)
			}
			fields = nil
		}
	}
	if len(fields) > 0 {
		if len(fields)%2 != 0 {
			event.Interface("unpaired_fields", fields)
		} else {
			for i := 0; i < len(fields); i += 2 {
				key, ok := fields[i].(string)
				if !ok {
					event.Interface("invalid_key", fields[i])
					continue
				}
				event.Interface(key, fields[i+1])
			}
		}
	}
	for k, v := range l.fields {
		event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *logger) Debug(msg string, fields ...any) { l.emit(zerolog.DebugLevel, msg, fields...) }
func (l *logger) Info(msg string, fields ...any)  { l.emit(zerolog.InfoLevel, msg, fields...) }
func (l *logger) Warn(msg string, fields ...any)  { l.emit(zerolog.WarnLevel, msg, fields...) }
func (l *logger) Error(msg string, fields ...any) { l.emit(zerolog.ErrorLevel, msg, fields...) }
func (l *logger) Fatal(msg string, fields ...any) { l.emit(zerolog.FatalLevel, msg, fields...) }
func (l *logger) Panic(msg string, fields ...any) { l.emit(zerolog.PanicLevel, msg, fields...) }

// Cleanup releases pooled resources and, outside development, closes the
// rotating log file.
func (l *logger) Cleanup() {
	l.releaseFields()
	if !l.development && l.lumberjack != nil {
		if err := l.lumberjack.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing lumberjack: %v\n", err)
		}
	}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case DebugLogLevel:
		return zerolog.DebugLevel
	case InfoLogLevel:
		return zerolog.InfoLevel
	case WarnLogLevel:
		return zerolog.WarnLevel
	case ErrorLogLevel:
		return zerolog.ErrorLevel
	case FatalLogLevel:
		return zerolog.FatalLevel
	case PanicLogLevel:
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
