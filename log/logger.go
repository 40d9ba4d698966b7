package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
	mu             sync.Mutex
)

// Init builds the process logger. level is debug|info|warn|error, format is json|console.
func Init(level, format string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		config = zap.NewDevelopmentConfig()
	}
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	loggerInstance = logger
	mu.Unlock()

	return logger, nil
}

// GetInstance returns the process logger, building a JSON info logger on first use
func GetInstance() *zap.Logger {
	mu.Lock()
	logger := loggerInstance
	mu.Unlock()

	if logger != nil {
		return logger
	}

	logger, err := Init("info", "json")
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	return logger
}
