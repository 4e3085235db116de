package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var levelStrings = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelStrings[l]; ok {
		return name
	}
	return "INFO"
}

type Options struct {
	Level    Level
	Console  io.Writer
	FilePath string
}

// Logger writes levelled, timestamped lines to the console and an optional
// log file. A nil *Logger discards everything, so packages can accept one as
// an optional dependency.
type Logger struct {
	sink      *sink
	component string
}

// sink is shared between a logger and the children created with With.
type sink struct {
	mu      sync.Mutex
	level   Level
	writer  io.Writer
	console io.Writer
	file    *os.File
}

func ParseLevel(value string) (Level, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return LevelInfo, nil
	}
	level, ok := levelNames[value]
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}

func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{console}
	var logFile *os.File
	if filePath := strings.TrimSpace(opts.FilePath); filePath != "" {
		dir := filepath.Dir(filePath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("creating log directory: %w", err)
			}
		}
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		logFile = f
		writers = append(writers, f)
	}

	return &Logger{sink: &sink{
		level:   opts.Level,
		writer:  io.MultiWriter(writers...),
		console: console,
		file:    logFile,
	}}, nil
}

// With returns a child logger whose lines are prefixed with the component
// name. Children share the parent's outputs and level.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	component = strings.TrimSpace(component)
	if l.component != "" && component != "" {
		component = l.component + "." + component
	} else if component == "" {
		component = l.component
	}
	return &Logger{sink: l.sink, component: component}
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.writer = s.console
		return err
	}
	return nil
}

func (l *Logger) ConsoleWriter() io.Writer {
	if l == nil {
		return io.Discard
	}
	return l.sink.console
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelError
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.Level()
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}
	message := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString(l.component)
		b.WriteString(": ")
	}
	b.WriteString(message)
	_, _ = io.WriteString(s.writer, b.String())
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

type writerAdapter struct {
	logger *Logger
	level  Level
}

func (w writerAdapter) Write(p []byte) (int, error) {
	if len(p) == 0 || w.logger == nil {
		return len(p), nil
	}
	text := strings.ReplaceAll(string(p), "\r", "")
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		w.logger.logf(w.level, "%s", trimmed)
	}
	return len(p), nil
}

// Writer adapts the logger to io.Writer, emitting one entry per non-empty line.
func (l *Logger) Writer(level Level) io.Writer {
	return writerAdapter{logger: l, level: level}
}
