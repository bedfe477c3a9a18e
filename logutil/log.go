// Package logutil builds the zap loggers used by SNGO nodes.
package logutil

import (
	"strings"

	"github.com/najoast/sngo/config"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a logger from cfg. The returned level controls the
// logger and may be changed at runtime with SetLogLevel.
func NewLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = atomicLevel
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch cfg.Format {
	case "", "console":
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		zapCfg.Encoding = "json"
	default:
		return nil, zap.AtomicLevel{}, config.ErrInvalidLogFormat.GenWithStackByArgs(cfg.Format)
	}

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	zapCfg.OutputPaths = []string{output}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	if len(cfg.Fields) > 0 {
		zapCfg.InitialFields = make(map[string]interface{}, len(cfg.Fields))
		for k, v := range cfg.Fields {
			zapCfg.InitialFields[k] = v
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, errors.Annotatef(err, "build logger for %s", output)
	}
	return logger, atomicLevel, nil
}

// ParseLevel maps a configured level to a zap level. "warning" is accepted
// as an alias of warn.
func ParseLevel(level config.LogLevel) (zapcore.Level, error) {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, config.ErrInvalidLogLevel.GenWithStackByArgs(level)
	}
}

// SetLogLevel changes the level of a logger built by NewLogger.
func SetLogLevel(atomicLevel zap.AtomicLevel, level config.LogLevel) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if atomicLevel.Level() != l {
		atomicLevel.SetLevel(l)
	}
	return nil
}

// WatchLevel keeps the level of a logger in step with the log level of a
// watched configuration.
func WatchLevel(w *config.Watcher, atomicLevel zap.AtomicLevel, logger *zap.Logger) {
	w.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level == newConfig.Log.Level {
			return
		}
		if err := SetLogLevel(atomicLevel, newConfig.Log.Level); err != nil {
			logger.Warn("ignoring log level change", zap.Error(err))
			return
		}
		logger.Info("log level changed",
			zap.Stringer("from", oldConfig.Log.Level),
			zap.Stringer("to", newConfig.Log.Level))
	})
}
