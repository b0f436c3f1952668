// Package logging configures the global zerolog logger for both execution
// modes. Output goes to stderr through the platform adapter, so inside an
// enclave every log line crosses the call gate.
package logging

import (
	"io"

	"github.com/mesmerverse/rats-tls/platform"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const stderrFD = 2

// Setup installs the global logger and returns the level read from
// platform.LogLevelEnv. An unset or unrecognised value logs errors only.
func Setup(a platform.Adapter, console bool) platform.LogLevel {
	level := a.LogLevel(platform.LogLevelEnv)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = platform.NewStreamWriter(a, stderrFD)
	if console {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).
		Level(level.Zerolog()).
		With().
		Timestamp().
		Str("mode", platform.Mode.String()).
		Logger()

	return level
}
