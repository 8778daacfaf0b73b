// Package logging sets up the zerolog logger shared by the commands.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "GEMGET_LOG_LEVEL"
	EnvLogNoColor = "GEMGET_LOG_NOCOLOR"
)

var (
	configureOnce sync.Once
	logger        zerolog.Logger
)

// Configure installs a console logger on stderr as the global zerolog
// logger and returns it. level is used unless GEMGET_LOG_LEVEL names
// another one; an empty or unknown level means info. Only the first call
// has an effect.
func Configure(level string) zerolog.Logger {
	configureOnce.Do(func() {
		lvl, ok := ParseLevel(os.Getenv(EnvLogLevel))
		if !ok {
			lvl, _ = ParseLevel(level)
		}
		noColor, _ := parseBool(os.Getenv(EnvLogNoColor))
		logger = New(os.Stderr, lvl, noColor)
		log.Logger = logger
	})
	return logger
}

// New returns a console logger writing to w.
func New(w io.Writer, level zerolog.Level, noColor bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. The second result is
// false for empty or unknown names, which map to info.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
