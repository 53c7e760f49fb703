package app

import (
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/logger"
)

// InitLogging installs the central logger configured in settings. It must run
// before any package logger is first used. The returned func flushes and
// closes log files.
func InitLogging(settings *conf.Settings) (func(), error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}

	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(cl)
	return func() { _ = cl.Close() }, nil
}
