package signalr

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the simplest logging interface for structured,
// keyed logging. See github.com/go-kit/log.
type StructuredLogger interface {
	Log(keyvals ...interface{}) error
}

// buildInfoDebugLogger splits logger into an info-level and a debug-level
// sink using go-kit/log/level.
func buildInfoDebugLogger(logger log.Logger, debug bool) (info StructuredLogger, dbg StructuredLogger) {
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return level.Info(logger), log.With(level.Debug(logger), "caller", log.DefaultCaller)
}

func defaultLoggers() (info StructuredLogger, dbg StructuredLogger) {
	return buildInfoDebugLogger(log.NewLogfmtLogger(os.Stderr), false)
}
