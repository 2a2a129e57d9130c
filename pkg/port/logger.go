package port

import (
	"mechatronics/eth1394-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the global logging level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel converts "debug", "info", "warn" or "error" into a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	l, err := logger.ParseLevel(s)
	return LogLevel(l), err
}

// EnablePacketDebug enables or disables hex dumps of every packet
// sent and received. Dumps are logged at debug level.
func EnablePacketDebug(enable bool) {
	logger.SetPacketDebug(enable)
}
