package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `yaml:"level" env:"TERMBRIDGE_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"TERMBRIDGE_LOG_FORMAT" default:"console"`
}

// Setup applies the logging configuration process-wide: the global zerolog
// level, and human-readable console output on stderr unless JSON format is
// requested.
func (c LogConfig) Setup() {
	zerolog.SetGlobalLevel(c.level())
	if strings.EqualFold(c.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func (c LogConfig) level() zerolog.Level {
	switch strings.ToLower(c.Level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
