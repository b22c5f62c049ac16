package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogType string

const (
	StdErr  LogType = "stderr"
	StdOut  LogType = "stdout"
	LogFile LogType = "logfile"
)

// Config is embedded in application configuration under the "log" key. Levels follow the flag
// convention used by all binaries: 0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug.
type Config struct {
	Type            LogType `mapstructure:"type"`
	File            string  `mapstructure:"file"`
	Level           int8    `mapstructure:"level"`
	MaxSize         int     `mapstructure:"max-size"`
	NumRotatedFiles int     `mapstructure:"num-rotated-files"`
	Developer       bool    `mapstructure:"developer"`
}

// Logger wraps a zap.Logger so callers can defer Sync() on the wrapper and still hand the
// underlying *zap.Logger to components.
type Logger struct {
	*zap.Logger
	rotator *lumberjack.Logger
}

func New(cfg Config) (*Logger, error) {
	if cfg.Developer {
		l, err := zap.NewDevelopment(zap.AddStacktrace(zapcore.WarnLevel))
		if err != nil {
			return nil, err
		}
		return &Logger{Logger: l}, nil
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	var rotator *lumberjack.Logger
	switch cfg.Type {
	case StdErr, "":
		sink = zapcore.Lock(os.Stderr)
	case StdOut:
		sink = zapcore.Lock(os.Stdout)
	case LogFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("log type %q requires a log file", cfg.Type)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.NumRotatedFiles,
		}
		sink = zapcore.AddSync(rotator)
	default:
		return nil, fmt.Errorf("unsupported log type %q (valid types: %s, %s, %s)", cfg.Type, StdErr, StdOut, LogFile)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, zap.NewAtomicLevelAt(cfg.ZapLevel()))
	return &Logger{Logger: zap.New(core, zap.AddCaller()), rotator: rotator}, nil
}

// ZapLevel maps the numeric log level onto a zap level.
func (c Config) ZapLevel() zapcore.Level {
	switch {
	case c.Level <= 0:
		return zapcore.FatalLevel
	case c.Level == 1:
		return zapcore.ErrorLevel
	case c.Level == 2:
		return zapcore.WarnLevel
	case c.Level == 3:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Sync flushes buffered log entries and closes the log file if one is in use.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if l.rotator != nil {
		if closeErr := l.rotator.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
