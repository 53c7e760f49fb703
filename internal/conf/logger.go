package conf

import "github.com/tphakala/threatlink/internal/logger"

// GetLogger returns the config package logger. It is resolved on each call
// because configuration loads before the central logger exists.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
