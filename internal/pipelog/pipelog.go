// Package pipelog provides the pipeline-wide and per-stage loggers.
//
// Per the orchestrator's design notes, there are no package-global logger
// handlers: a Logger is an explicit value constructed once at job start and
// threaded through the orchestrator and each Stage I/O Context. A stage
// logger is a child of the pipeline logger, carrying a "stage" field and
// additionally mirroring every entry into that stage's own stage.log file.
package pipelog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger. It is safe to pass by value's pointer and
// is never accessed through a package-level global.
type Logger struct {
	entry   *logrus.Entry
	closers []io.Closer
}

// New constructs the pipeline-wide logger, writing to stdout and to
// jobDir/pipeline.log. The returned Logger owns the log file handle and
// must be closed with Close when the job ends.
func New(jobDir string, level logrus.Level) (*Logger, error) {
	path := filepath.Join(jobDir, "pipeline.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("pipelog: opening %s: %w", path, err)
	}

	base := logrus.New()
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetOutput(io.MultiWriter(os.Stdout, f))

	return &Logger{
		entry:   logrus.NewEntry(base),
		closers: []io.Closer{f},
	}, nil
}

// ForStage returns a child logger scoped to a single stage. Every entry
// logged through the child also appears in the pipeline-wide log (via the
// shared base logger) and is additionally duplicated into the stage's own
// stage.log file for independent inspection.
func (l *Logger) ForStage(stageDir, stageName string) (*Logger, error) {
	path := filepath.Join(stageDir, "stage.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("pipelog: opening %s: %w", path, err)
	}

	base := l.entry.Logger
	stageLogger := logrus.New()
	stageLogger.SetLevel(base.GetLevel())
	stageLogger.SetFormatter(base.Formatter)
	stageLogger.SetOutput(io.MultiWriter(base.Out, f))

	return &Logger{
		entry:   stageLogger.WithField("stage", stageName),
		closers: []io.Closer{f},
	}, nil
}

func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Writer exposes the underlying io.Writer destination (stdout + log file)
// so stage runners can pipe subprocess output directly without going
// through logrus's line-oriented API.
func (l *Logger) Writer() io.Writer {
	return l.entry.Logger.Out
}

// Close flushes and releases any file handles owned by this logger. Safe
// to call multiple times.
func (l *Logger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

// ParseLevel maps the LOG_LEVEL environment values (trace/debug/info/warn/error)
// honored by the orchestrator to a logrus.Level, defaulting to Info on an
// empty or unrecognized value.
func ParseLevel(raw string) logrus.Level {
	if raw == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
