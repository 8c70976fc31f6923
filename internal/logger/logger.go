package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures the process logger
type Options struct {
	Level string
	// Dir enables a daily log file in addition to stdout when set
	Dir    string
	Prefix string
	// Output overrides stdout, mainly for tests
	Output io.Writer
}

// Logger owns the logrus instance and the optional session log file
type Logger struct {
	*logrus.Logger

	mu      sync.Mutex
	logFile *os.File
	path    string
}

// New creates the logger and writes the session header to the log file
func New(opts Options) (*Logger, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = logrus.InfoLevel
	}

	base := logrus.New()
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{Logger: base}
	if opts.Dir == "" {
		base.SetOutput(out)
		return l, nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "crossover"
	}
	l.path = filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", prefix, time.Now().Format("2006-01-02")))

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l.logFile = file
	base.SetOutput(io.MultiWriter(out, file))

	l.writeBanner("SESSION STARTED")
	return l, nil
}

func (l *Logger) writeBanner(title string) {
	fmt.Fprintf(l.logFile, `
================================================================================
%s %s
================================================================================
`, title, time.Now().Format("2006-01-02 15:04:05"))
}

// Path returns the session log file, empty when logging to stdout only
func (l *Logger) Path() string {
	return l.path
}

// Close writes the session footer and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	l.writeBanner("SESSION ENDED")
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// Discard returns a logger that drops every entry
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
