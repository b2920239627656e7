package log

import (
	"os"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger installs the global logger: a colored console core plus, when path is set, a JSON
// file core. fields are attached to every entry.
func NewLogger(path string, debug bool, fields ...zap.Field) error {
	logger, err := Build(zapcore.AddSync(colorable.NewColorableStdout()), path, debug)
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger.With(fields...))

	return nil
}

func Build(console zapcore.WriteSyncer, path string, debug bool) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level.SetLevel(zap.DebugLevel)
	}

	ec := encoderConfig()
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig(ec)), console, level),
	}

	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.MessageKey = "message"
	ec.TimeKey = "time"

	return ec
}

func consoleEncoderConfig(ec zapcore.EncoderConfig) zapcore.EncoderConfig {
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return ec
}
