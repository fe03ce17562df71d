package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultLogDir is the directory under $HOME for the daemon log
	DefaultLogDir = ".local/state/cosmic-ext-quake-terminal"
	// DefaultLogFile is the log file name
	DefaultLogFile = "daemon.log"
)

var (
	Logger  = zerolog.Nop()
	logFile *os.File
)

// timestampHook adds timestamp at the end of each log event
type timestampHook struct{}

func (h timestampHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	e.Time("ts", time.Now())
}

// Options controls where log output goes.
type Options struct {
	// File overrides the default log path when non-empty
	File string
	// Console mirrors log output to stderr in human-readable form
	Console bool
	// Level is a zerolog level name ("debug", "info", ...); empty means info
	Level string
}

// DefaultPath returns the default log file path
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, DefaultLogDir, DefaultLogFile)
}

// Init initializes the logging system with zerolog
func Init(opts Options) error {
	path := opts.File
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	logFile = f

	var out io.Writer = logFile
	if opts.Console {
		out = zerolog.MultiLevelWriter(logFile, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	InitWithWriter(out)
	if err := SetLevel(opts.Level); err != nil {
		Logger.Warn().Err(err).Msg("unknown log level, keeping info")
	}

	return nil
}

// InitWithWriter points the global logger at w. Used directly by tests.
func InitWithWriter(w io.Writer) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Configure field names
	zerolog.MessageFieldName = "msg"

	// Create logger with hook that adds timestamp last
	Logger = zerolog.New(w).Hook(timestampHook{})
}

// SetLevel changes the global level by name. Empty keeps the current level.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// SetDebug toggles debug level logging
func SetDebug(enabled bool) {
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Component returns a child logger tagged with the component name
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Close closes the log file
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Debug returns a debug level event
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info returns an info level event
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn returns a warn level event
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error returns an error level event
func Error() *zerolog.Event {
	return Logger.Error()
}
