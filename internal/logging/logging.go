// Package logging builds the process-wide structured logger.
//
// Console output goes to stdout; when a file path is configured the same
// stream is duplicated into a size-rotated log file.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction. The zero value logs Info and above
// to stdout only.
type Options struct {
	// Debug lowers the level threshold to Debug.
	Debug bool

	// File, when non-empty, duplicates output into a rotated log file.
	File string

	// MaxSizeMB is the rotation threshold for the log file. Zero means 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to retain. Zero means 3.
	MaxBackups int
}

func encoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		TimeKey:          "time",
		CallerKey:        "caller",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// New constructs a SugaredLogger according to opts.
func New(opts Options) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder(), zapcore.Lock(os.Stdout), level),
	}

	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(encoder(), zapcore.AddSync(rotated), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
}

// Nop returns a logger that discards everything. Intended for tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
