// Package marfslog provides the structured, component-tagged logger used
// throughout the MarFS core — the datastream engine, the S3 DAL driver
// and the resource manager all take a *Logger rather than calling log.Printf
// directly, so a single resource-manager pass can emit either
// human-readable text or newline-delimited JSON.
package marfslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", level)
	}
}

// Format selects the log line encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is one emitted log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Config configures a new Logger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	Rotation      *RotationConfig
}

// DefaultConfig returns sensible defaults: INFO, text, stdout, no caller.
func DefaultConfig() Config {
	return Config{Level: INFO, Output: os.Stdout, Format: FormatText}
}

// Logger is a leveled, structured, component-tagged logger.
type Logger struct {
	mu              sync.RWMutex
	level           Level
	output          io.Writer
	format          Format
	fields          map[string]interface{}
	includeCaller   bool
	componentLevels map[string]Level
	rotator         *Rotator
}

// New creates a Logger from cfg, opening log rotation if cfg.Rotation is set.
func New(cfg Config) (*Logger, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	l := &Logger{
		level:           cfg.Level,
		output:          cfg.Output,
		format:          cfg.Format,
		fields:          make(map[string]interface{}),
		includeCaller:   cfg.IncludeCaller,
		componentLevels: make(map[string]Level),
	}
	if cfg.Rotation != nil {
		rot, err := NewRotator(cfg.Rotation)
		if err != nil {
			return nil, fmt.Errorf("marfslog: opening rotator: %w", err)
		}
		l.rotator = rot
		l.output = rot
	}
	return l, nil
}

// With returns a derived logger carrying an additional context field.
func (l *Logger) With(key string, value interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{
		level: l.level, output: l.output, format: l.format,
		fields: fields, includeCaller: l.includeCaller,
		componentLevels: l.componentLevels, rotator: l.rotator,
	}
}

// WithComponent tags this logger with a component name (e.g. "datastream",
// "streamwalker", "resourcemgr").
func (l *Logger) WithComponent(component string) *Logger { return l.With("component", component) }

// SetComponentLevel overrides the effective level for a single component tag.
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.fields["component"]; ok {
		if name, ok := c.(string); ok {
			if lvl, ok := l.componentLevels[name]; ok {
				return level >= lvl
			}
		}
	}
	return level >= l.level
}

func (l *Logger) log(level Level, msg string, extra map[string]interface{}) {
	if !l.enabled(level) {
		return
	}
	entry := Entry{Timestamp: time.Now(), Level: level.String(), Message: msg, Fields: map[string]interface{}{}}
	l.mu.RLock()
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()
	for k, v := range extra {
		entry.Fields[k] = v
	}
	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var line string
	if l.format == FormatJSON {
		if data, err := json.Marshal(entry); err == nil {
			line = string(data) + "\n"
		} else {
			line = l.formatText(entry)
		}
	} else {
		line = l.formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(line))
}

func (l *Logger) formatText(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(e.Level)
	b.WriteString("] ")
	if e.Caller != "" {
		b.WriteString("[")
		b.WriteString(e.Caller)
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(" {")
		first := true
		for k, v := range e.Fields {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%s=%v", k, v)
		}
		b.WriteString("}")
	}
	b.WriteString("\n")
	return b.String()
}

func (l *Logger) Tracef(format string, args ...interface{}) { l.log(TRACE, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(DEBUG, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(INFO, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(WARN, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(ERROR, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

func (l *Logger) Trace(msg string, fields map[string]interface{}) { l.log(TRACE, msg, fields) }
func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.log(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]interface{})  { l.log(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.log(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.log(ERROR, msg, fields) }

// Close releases the rotator, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger {
	l, _ := New(Config{Level: FATAL + 1, Output: io.Discard})
	return l
}
