// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It discards everything until
// InitCLILogger is called.
var CLILogger = zap.NewNop()

// InitCLILogger installs a console logger on stderr named appName.
// Verbose enables debug output; otherwise level applies, defaulting to info.
func InitCLILogger(appName string, verbose bool, level ...string) {
	lvl := zapcore.InfoLevel
	if len(level) > 0 && level[0] != "" {
		lvl = ParseLevel(level[0])
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	CLILogger = NewCLILogger(appName, lvl, zapcore.Lock(os.Stderr))
}

// NewCLILogger builds a console logger writing to ws.
func NewCLILogger(appName string, lvl zapcore.Level, ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, zap.NewAtomicLevelAt(lvl))
	return zap.New(core).Named(appName)
}

// ParseLevel maps a level name to a zap level. Unknown names yield info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
