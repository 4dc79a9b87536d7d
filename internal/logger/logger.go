package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// Options controls where log lines go. Zero values fall back to logs/<service>-<date>.log and stdout.
type Options struct {
	Dir        string
	Service    string
	Level      string
	Terminal   io.Writer
	Structured io.Writer
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	json     zerolog.Logger
	logFile  *os.File
	minLevel LogLevel
}

func NewLogger(opts Options) (*Logger, error) {
	if opts.Service == "" {
		opts.Service = "checkout"
	}
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if opts.Terminal == nil {
		opts.Terminal = os.Stdout
	}

	l := &Logger{
		terminal: opts.Terminal,
		minLevel: ParseLevel(opts.Level),
	}

	structured := opts.Structured
	if structured == nil {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", opts.Service, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = f
		structured = f
	}

	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	l.json = zerolog.New(structured).With().Timestamp().Str("service", opts.Service).Logger()

	l.Info("LOGGER", fmt.Sprintf("Logging initialized (level=%s)", levelToString(l.minLevel)))
	return l, nil
}

// NewNop returns a logger that drops everything. Used by tests.
func NewNop() *Logger {
	return &Logger{
		terminal: io.Discard,
		json:     zerolog.Nop(),
		minLevel: FATAL + 1,
	}
}

func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if level < l.minLevel {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}
	category = strings.ToUpper(category)
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.terminal, formatTerminalOutput(now, level, category, message, file, line))

	l.json.WithLevel(zerologLevel(level)).
		Str("category", category).
		Str("file", file).
		Int("line", line).
		Msg(message)
}

func formatTerminalOutput(ts time.Time, level LogLevel, category, message, file string, line int) string {
	var levelColor, categoryColor *color.Color

	switch level {
	case DEBUG:
		levelColor = color.New(color.FgCyan)
		categoryColor = color.New(color.FgCyan, color.Bold)
	case INFO:
		levelColor = color.New(color.FgGreen)
		categoryColor = color.New(color.FgGreen, color.Bold)
	case WARN:
		levelColor = color.New(color.FgYellow)
		categoryColor = color.New(color.FgYellow, color.Bold)
	default:
		levelColor = color.New(color.FgRed)
		categoryColor = color.New(color.FgRed, color.Bold)
	}

	timeStr := color.New(color.FgBlue).Sprint(ts.Format("15:04:05"))
	levelStr := levelColor.Sprintf("%-5s", levelToString(level))
	categoryStr := categoryColor.Sprintf("[%-10s]", category)

	if file != "" && line > 0 {
		fileInfo := color.New(color.FgMagenta).Sprintf(" (%s:%d)", file, line)
		return fmt.Sprintf("%s %s %s %s%s\n", timeStr, levelStr, categoryStr, message, fileInfo)
	}
	return fmt.Sprintf("%s %s %s %s\n", timeStr, levelStr, categoryStr, message)
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	l.Close()
	os.Exit(1)
}

// Specialized logging methods for different components
func (l *Logger) LogOrder(action, orderID, message string) {
	l.Info("ORDER", fmt.Sprintf("[%s] %s - %s", action, orderID, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.Info("API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.Info("KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.Debug("DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
}
