package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Leveled process-wide logger used by the session service.
// Output is JSON lines (zerolog); Init(level) selects the minimum level.

var (
	mu    sync.RWMutex
	out   io.Writer = os.Stdout
	level           = zerolog.InfoLevel
	log             = newLogger(out, level)
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

func newLogger(w io.Writer, l zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(l).With().Timestamp().Str("service", "sessionguard").Logger()
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
	log = newLogger(out, level)
}

// SetOutput redirects log output (tests capture it in a buffer).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	log = newLogger(out, level)
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func Debugf(format string, v ...interface{}) { current().Debug().Msg(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { current().Info().Msg(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { current().Warn().Msg(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { current().Error().Msg(fmt.Sprintf(format, v...)) }

func Fatalf(format string, v ...interface{}) {
	current().WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Structured event builders. The caller must finish the event with Msg/Send.
func Debug() *zerolog.Event { return current().Debug() }
func Info() *zerolog.Event  { return current().Info() }
func Warn() *zerolog.Event  { return current().Warn() }
func Error() *zerolog.Event { return current().Error() }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case zerolog.DebugLevel:
		return "debug"
	case zerolog.WarnLevel:
		return "warn"
	case zerolog.ErrorLevel:
		return "error"
	case zerolog.FatalLevel:
		return "fatal"
	}
	return "info"
}
