// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions selects the log level and the set of transports. With no
// transports configured, logs go to stderr as JSON.
type LoggerOptions struct {
	Level      string
	Transports []TransportOptions
}

// TransportOptions configures one log sink.
type TransportOptions struct {
	Type string // stderr | file | websocket

	// file transport
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds the runtime's root logger. Component loggers are
// derived with Scope, which names the child so every entry carries its
// origin. hub may be nil when no websocket transport is configured.
func NewLogger(opts LoggerOptions, hub *LogHub) (*zap.Logger, error) {
	lvl := parseLevel(opts.Level)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	enc := zapcore.NewJSONEncoder(encCfg)

	transports := opts.Transports
	if len(transports) == 0 {
		transports = []TransportOptions{{Type: "stderr"}}
	}

	cores := make([]zapcore.Core, 0, len(transports))
	for _, tr := range transports {
		switch tr.Type {
		case "stderr", "":
			cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl))
		case "file":
			if tr.Path == "" {
				return nil, fmt.Errorf("file transport requires a path")
			}
			sink := &lumberjack.Logger{
				Filename:   tr.Path,
				MaxSize:    tr.MaxSizeMB,
				MaxBackups: tr.MaxBackups,
				MaxAge:     tr.MaxAgeDays,
			}
			cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(sink), lvl))
		case "websocket":
			if hub == nil {
				return nil, fmt.Errorf("websocket transport requires a log hub")
			}
			cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(hub), lvl))
		default:
			return nil, fmt.Errorf("unknown log transport %q", tr.Type)
		}
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// Scope derives a named child logger for one component.
func Scope(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named(name)
}

// Convenience typed fields
func String(k, v string) zap.Field                 { return zap.String(k, v) }
func Int(k string, v int) zap.Field                { return zap.Int(k, v) }
func Int64(k string, v int64) zap.Field            { return zap.Int64(k, v) }
func Bool(k string, v bool) zap.Field              { return zap.Bool(k, v) }
func Float(k string, v float64) zap.Field          { return zap.Float64(k, v) }
func Duration(k string, v time.Duration) zap.Field { return zap.Duration(k, v) }
func Any(k string, v any) zap.Field                { return zap.Any(k, v) }
func Err(err error) zap.Field                      { return zap.Error(err) }
