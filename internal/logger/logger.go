// Package logger configures the process-wide zerolog logger and hands out
// component-scoped child loggers. Initialize is called exactly once from
// Bootstrap; every other package only ever reads the already-initialized
// global through the component constructors below.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide base logger, valid after Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger. pretty selects a human-readable
// console writer (development); otherwise JSON lines with unix timestamps
// are emitted, suitable for the gateway's log/ directory or journald.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "webthings-gateway").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Supervisor returns the logger used by the process supervisor.
func Supervisor() *zerolog.Logger { return component("supervisor") }

// IPC returns the logger used by the IPC listener and sessions.
func IPC() *zerolog.Logger { return component("ipc") }

// Addon returns the logger used by the add-on manager.
func Addon() *zerolog.Logger { return component("addon") }

// Fanout returns the logger used by the fan-out hub.
func Fanout() *zerolog.Logger { return component("fanout") }

// Demux returns the logger used by the HTTP/WS demultiplexer.
func Demux() *zerolog.Logger { return component("demux") }

// DB returns the logger used by the repository.
func DB() *zerolog.Logger { return component("db") }

// Bootstrap returns the logger used by the startup sequence.
func Bootstrap() *zerolog.Logger { return component("bootstrap") }
