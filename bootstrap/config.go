package bootstrap

import (
	"fmt"
	"os"

	"argus/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output at level
// ("debug", "info", "warn" or "error").
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// stderr keeps stdout free for command output such as alerts
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the configuration at path, or the defaults and ARGUS_*
// environment when path is empty.
func InitConfig(path string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path == "" {
		sugar.Info("No config file given, using defaults and env vars")
	}

	sugar.Infow("Config loaded",
		"workers", cfg.Engine.Workers,
		"language", cfg.Engine.Language,
		"dataset_kinds", len(cfg.Datasets.Kinds),
		"feed_sources", len(cfg.Datasets.Sources),
		"correlation_backend", cfg.Correlation.Backend)
	return cfg, nil
}
