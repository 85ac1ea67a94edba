// Package logger builds the structured zerolog loggers used across
// spendguard. Every logger carries a service field so log lines stay
// attributable when the engine runs next to other services.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// serviceName is stamped on every log line.
const serviceName = "spendguard"

// Config holds logger configuration
type Config struct {
	Level  string // zerolog level name (debug, info, warn, error); empty means info
	Pretty bool   // Enable pretty console output
}

// New creates the root logger. An unrecognized level name is an error
// rather than a silent fallback: a typo in LOG_LEVEL must not quietly run
// a deployment at the default level.
func New(cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("unknown log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	return build(cfg.Pretty), nil
}

// Default returns an info-level pretty logger for use before configuration
// is available, such as reporting a config load failure.
func Default() zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	return build(true)
}

func build(pretty bool) zerolog.Logger {
	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger()
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
