package platform

import "github.com/rs/zerolog"

// LogLevel is ordered: Debug < Info < Warn < Error < Fatal < None.
// LevelDefault sits outside the order and means "not configured".
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelNone

	LevelDefault LogLevel = -1
)

// LogLevelEnv is the variable read for the framework's log verbosity
const LogLevelEnv = "RATS_TLS_GLOBAL_LOG_LEVEL"

// logLevelBufSize is the buffer an isolated caller offers the parent for
// the variable's value, terminator included
const logLevelBufSize = 32

var levelNames = map[string]LogLevel{
	"debug": LevelDebug,
	"DEBUG": LevelDebug,
	"info":  LevelInfo,
	"INFO":  LevelInfo,
	"warn":  LevelWarn,
	"WARN":  LevelWarn,
	"error": LevelError,
	"ERROR": LevelError,
	"fatal": LevelFatal,
	"FATAL": LevelFatal,
	"off":   LevelNone,
	"OFF":   LevelNone,
}

// ParseLogLevel accepts a level name spelled all lowercase or all uppercase.
// Every other input, including mixed case and the empty string, yields
// LevelDefault.
func ParseLogLevel(s string) LogLevel {
	if l, ok := levelNames[s]; ok {
		return l
	}
	return LevelDefault
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	case LevelNone:
		return "off"
	default:
		return "default"
	}
}

// Resolve maps LevelDefault to the level used when nothing is configured
func (l LogLevel) Resolve() LogLevel {
	if l < LevelDebug || l > LevelNone {
		return LevelError
	}
	return l
}

// Zerolog returns the equivalent zerolog level
func (l LogLevel) Zerolog() zerolog.Level {
	switch l.Resolve() {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelFatal:
		return zerolog.FatalLevel
	case LevelNone:
		return zerolog.Disabled
	default:
		return zerolog.ErrorLevel
	}
}
