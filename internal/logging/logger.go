// Package logging builds the process zap logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the optional rotating JSON file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a production JSON logger when environment is "production" and a
// console logger otherwise. level overrides the default level when set; a
// non-empty file.Path tees every entry into a lumberjack-rotated file.
func New(environment, level string, file FileOptions) (*zap.Logger, error) {
	var config zap.Config
	if environment == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			config.Level.SetLevel(lvl)
		}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	if file.Path == "" {
		return logger, nil
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.TimeKey = "timestamp"
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEnc),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    orDefault(file.MaxSizeMB, 100),
			MaxBackups: orDefault(file.MaxBackups, 7),
			MaxAge:     orDefault(file.MaxAgeDays, 30),
			Compress:   true,
		}),
		config.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}

// Must is New for main; it exits when the logger cannot be built.
func Must(environment, level string, file FileOptions) *zap.Logger {
	l, err := New(environment, level, file)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return l
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
