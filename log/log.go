package log

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ALL = iota + 0
	DEBUG
	INFO
	WARN
	ERROR
)

const (
	_callerInfo = "NoCallerFile"
)

// DefaultDebugLevel suppresses every message whose level is below it.
var DefaultDebugLevel = DEBUG

const CallHierarchy int = 1

var _log = zap.NewNop()

func JSON(v interface{}) string {
	return fmt.Sprintf("%+v", v)
}

func caller() zapcore.Field {
	_, file, line, ok := runtime.Caller(CallHierarchy + 1)
	callerInfo := _callerInfo

	if ok {
		callerInfo = fmt.Sprintf("%s:%d", file, line)
	}

	return zap.String("caller", callerInfo)
}

func enabled(level int) bool {
	return level >= DefaultDebugLevel
}

func Info(p string, f ...zapcore.Field) {
	if !enabled(INFO) {
		return
	}

	t := []zapcore.Field{caller()}
	t = append(t, f...)
	_log.Info(p, t...)
}

func Warn(p string, f ...zapcore.Field) {
	if !enabled(WARN) {
		return
	}

	t := []zapcore.Field{caller()}
	t = append(t, f...)
	_log.Warn(p, t...)
}

func Debug(p string, f ...zapcore.Field) {
	if !enabled(DEBUG) {
		return
	}

	t := []zapcore.Field{caller()}
	t = append(t, f...)
	_log.Debug(p, t...)
}

func Error(p string, f ...zapcore.Field) {
	if !enabled(ERROR) {
		return
	}

	t := []zapcore.Field{caller()}
	t = append(t, f...)
	_log.Error(p, t...)
}

// Named returns a child logger for a component that logs on its own, e.g. a
// capture session tagged with its device.
func Named(name string, f ...zapcore.Field) *zap.Logger {
	return _log.Named(name).With(f...)
}

// Logger exposes the underlying zap logger.
func Logger() *zap.Logger {
	return _log
}

func Init(servername string) {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.FullCallerEncoder,
	}
	atom := zap.NewAtomicLevelAt(zap.DebugLevel)
	config := zap.Config{
		Level:            atom,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		InitialFields:    map[string]interface{}{"servername": servername},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, e := config.Build()
	if e != nil {
		panic(fmt.Sprintf("failed to init log: %v", e))
	}

	_log = l
}

// Sync flushes buffered entries, called on shutdown.
func Sync() {
	_ = _log.Sync()
}
