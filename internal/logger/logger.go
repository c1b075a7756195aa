// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/config"
)

// Init sets the global zerolog logger from cfg. Call once at startup.
//
// Pretty console output is meant for local runs; production keeps JSON lines
// so log shippers can index the fields. Every line carries "service" and
// "instance", and the standard library logger is redirected into zerolog.
func Init(cfg *config.Config) {
	InitWriter(cfg, os.Stdout)
}

// InitWriter is Init with an explicit destination.
func InitWriter(cfg *config.Config, out io.Writer) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zlog.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
