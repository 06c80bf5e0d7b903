// Package barnlog provides Barn's structured logger: a thin wrapper
// around a zap sugared logger that writes to the daemon's
// logs/barn.log, with a console-friendly development mode and a JSON
// production mode.
package barnlog

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Logger wraps a zap sugared logger with Barn's field conventions.
type Logger struct {
	sugared *zap.SugaredLogger
}

// New builds a Logger in the given mode ("prod"/"production" for JSON
// output, anything else for the human-readable development encoder),
// writing to logPath in addition to stderr.
func New(mode, logPath string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

	withFile := cfg
	withFile.OutputPaths = append(append([]string{}, cfg.OutputPaths...), logPath)

	zapLogger, err := withFile.Build()
	if err != nil {
		// logPath couldn't be opened (missing parent directory, permission
		// denied, full disk); fall back to stderr only rather than failing
		// daemon startup over a logging-destination problem.
		fmt.Fprintf(os.Stderr, "barnlog: failed to open %s, falling back to stderr: %v\n", logPath, err)
		zapLogger, err = cfg.Build()
		if err != nil {
			return nil, err
		}
	}
	return &Logger{sugared: zapLogger.Sugar()}, nil
}

// Sync flushes any buffered log entries; call it once at shutdown.
func (l *Logger) Sync() {
	_ = l.sugared.Sync()
}

// Debug, Info, Warn, Error log a message with structured key/value
// pairs (e.g. Info("dispatching job", "job_id", id, "load_level", lvl)).
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugared.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugared.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugared.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugared.Errorw(msg, keysAndValues...)
}

// With returns a child Logger with the given key/value pairs attached
// to every subsequent entry, e.g. logger.With("job_id", id) before
// passing it into a job-scoped component.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugared: l.sugared.With(keysAndValues...)}
}
