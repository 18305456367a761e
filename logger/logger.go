package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"
)

// Options configures the process logger
type Options struct {
	Level      string
	Directory  string // empty keeps output on stdout only
	MaxAgeDays int
}

// LogFormatter renders "timestamp [LEVEL] message key=value ..."
type LogFormatter struct {
	TimestampFormat string
	LevelDesc       []string
}

// Format format entry in custom format
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)
	level := strings.ToUpper(entry.Level.String())
	if int(entry.Level) < len(f.LevelDesc) {
		level = f.LevelDesc[entry.Level]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", timestamp, level, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// New builds a logrus logger. When a directory is configured, output goes to
// stdout and to an hourly rotated file.
func New(opts Options) (*log.Logger, error) {
	l := log.New()
	l.SetFormatter(&LogFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		LevelDesc:       []string{"PANIC", "FATAL", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"},
	})

	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}
	l.SetLevel(level)
	l.SetOutput(os.Stdout)

	if opts.Directory == "" {
		return l, nil
	}

	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 2
	}

	rl, err := initializeLogRotation(opts.Directory, maxAge)
	if err != nil {
		return nil, fmt.Errorf("log rotation: %w", err)
	}
	l.SetOutput(io.MultiWriter(os.Stdout, rl))
	return l, nil
}

// initializeLogRotation initializes log rotation with specified settings
func initializeLogRotation(dir string, maxAgeDays int) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return rotatelogs.New(
		filepath.Join(dir, "agranova-%Y-%m-%d-%H.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, "agranova.log")),
		rotatelogs.WithRotationTime(time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAgeDays)*24*time.Hour),
	)
}

// Discard returns a logger that drops everything, for tests and tools
func Discard() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}
