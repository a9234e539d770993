package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trendmind/trendmind/pkg/config"
)

var (
	mu sync.RWMutex
	// Logger is the application logger
	Logger *zap.Logger
)

// InitLogger builds the process logger from cfg, installs it as the global
// logger and returns it.
func InitLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	return initLogger(cfg, os.Stdout)
}

func initLogger(cfg *config.LoggingConfig, out io.Writer) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch {
	case cfg.Format == "text":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case cfg.ScalyrFormat:
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = NewScalyrEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	logger := zap.New(
		zapcore.NewCore(encoder, zapcore.AddSync(out), level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	SetLogger(logger)
	return logger, nil
}

// SetLogger replaces the global logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	Logger = l
	mu.Unlock()
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	mu.RLock()
	l := Logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if Logger == nil {
		Logger, _ = zap.NewProduction()
	}
	return Logger
}

// WithComponent adds component name to logger
func WithComponent(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}

// WithJob returns a component logger tagged with a job id and kind.
func WithJob(component, jobID, kind string) *zap.Logger {
	return WithComponent(component).With(zap.String("job_id", jobID), zap.String("job_kind", kind))
}

// Sync flushes the global logger.
func Sync() {
	if l := GetLogger(); l != nil {
		_ = l.Sync()
	}
}
