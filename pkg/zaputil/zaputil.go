// Package zaputil implements various zap.Logger utilities.
package zaputil

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new zap.Logger.
func New(debug bool, outputs []string) (*zap.Logger, error) {
	logLvl := zap.InfoLevel
	if debug {
		logLvl = zap.DebugLevel
	}
	lcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(logLvl),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},

		// 'json' or 'console'
		Encoding: "console",

		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     iso8601UTCTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
	}
	return lcfg.Build()
}

// NewSession creates a logger that writes to stderr and a dated session log
// file under baseDir (e.g. "aws/ec2/logs/2026-08-24/session_<id>.log").
// The log directory is created if missing; the returned path is the log file.
func NewSession(debug bool, baseDir string, sessionID string) (lg *zap.Logger, logPath string, err error) {
	dir := filepath.Join(baseDir, time.Now().UTC().Format("2006-01-02"))
	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, "", err
	}
	logPath = filepath.Join(dir, "session_"+sessionID+".log")
	lg, err = New(debug, []string{"stderr", logPath})
	if err != nil {
		return nil, "", err
	}
	return lg, logPath, nil
}

func iso8601UTCTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z0700"))
}
