package cmn

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the broker's named log-level ladder, from the CLI's
// --verbose/--quiet flags: quiet, error, notice, info, debug, trace.
type Level int

const (
	LevelQuiet Level = iota
	LevelError
	LevelNotice
	LevelInfo
	LevelDebug
	LevelTrace
)

var levelNames = map[string]Level{
	"quiet":  LevelQuiet,
	"error":  LevelError,
	"notice": LevelNotice,
	"info":   LevelInfo,
	"debug":  LevelDebug,
	"trace":  LevelTrace,
}

// ParseLevel maps a CLI --verbose argument onto a Level. Unknown names
// default to LevelInfo.
func ParseLevel(name string) Level {
	if lv, ok := levelNames[name]; ok {
		return lv
	}
	return LevelInfo
}

func (lv Level) zapLevel() zapcore.Level {
	switch {
	case lv <= LevelQuiet:
		return zapcore.FatalLevel + 1 // silences everything
	case lv == LevelError:
		return zapcore.ErrorLevel
	case lv == LevelNotice:
		return zapcore.WarnLevel
	case lv == LevelInfo:
		return zapcore.InfoLevel
	default: // debug, trace
		return zapcore.DebugLevel
	}
}

var (
	logMu   sync.RWMutex
	sugared = mustBuild(LevelInfo, "", true)
)

// LogConfig configures where and how loudly the broker logs.
type LogConfig struct {
	Level    Level
	FilePath string // empty: no file sink
	ToStderr bool
}

// Configure replaces the process-wide logger. Call once at startup, before
// any other package logs.
func Configure(c LogConfig) {
	logMu.Lock()
	defer logMu.Unlock()
	sugared = mustBuild(c.Level, c.FilePath, c.ToStderr || c.FilePath == "")
}

func mustBuild(lv Level, filePath string, toStderr bool) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	var cores []zapcore.Core
	lvl := zap.NewAtomicLevelAt(lv.zapLevel())

	if toStderr {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), lvl))
	}
	if filePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    64, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), lvl))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}
	return zap.New(zapcore.NewTee(cores...)).Sugar()
}

// L returns the process-wide structured logger.
func L() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return sugared
}
