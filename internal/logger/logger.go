package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

func init() {
	// Initialize with a default logger (info level, stderr output)
	// Can be reconfigured later with Init()
	Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// Options controls how the global logger is built
type Options struct {
	// Level is one of debug, info, warn, error
	Level string
	// Pretty switches console output to zerolog's human readable writer
	Pretty bool
	// File, when set, receives every log line as JSON in append mode.
	// The poll loop runs unattended, so this is where its faults end up.
	File string
	// Out overrides the console writer (stderr by default)
	Out io.Writer
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger. The returned closer releases the log
// file, if one was opened; it is never nil.
func Init(opts Options) (io.Closer, error) {
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	var console io.Writer = os.Stderr
	if opts.Out != nil {
		console = opts.Out
	}
	if opts.Pretty {
		console = zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	var closer io.Closer = nopCloser{}
	output := console
	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			return closer, err
		}
		closer = f
		output = zerolog.MultiLevelWriter(console, f)
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	// Set as global logger
	log.Logger = Logger
	return closer, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}
