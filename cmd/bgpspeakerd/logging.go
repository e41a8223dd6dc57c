package main

import (
	"go.uber.org/zap"

	"github.com/route-beacon/bgpspeaker/fsm"
)

// zapLogger adapts fsm.Logger (§6) onto a *zap.Logger so the core
// packages never import zap directly; the interface boundary is the
// whole point of fsm.Logger.
type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Log(level fsm.Level, msg string, fields ...fsm.Field) {
	zf := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zf = append(zf, zap.Any(f.Key, f.Value))
	}
	switch level {
	case fsm.LevelFatal, fsm.LevelError:
		z.l.Error(msg, zf...)
	case fsm.LevelWarn:
		z.l.Warn(msg, zf...)
	case fsm.LevelInfo:
		z.l.Info(msg, zf...)
	case fsm.LevelDebug:
		z.l.Debug(msg, zf...)
	}
}
