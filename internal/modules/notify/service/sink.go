package service

import (
	"context"
	"strings"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

func (l Level) Emoji() string {
	switch Level(strings.ToUpper(string(l))) {
	case LevelInfo:
		return "ℹ️"
	case LevelWarning:
		return "⚠️"
	case LevelError:
		return "🔴"
	case LevelCritical:
		return "🚨"
	}
	return "❓"
}

// Fields is the alert context; an "error" key is rendered in its own block.
type Fields map[string]any

// Sink delivers operator alerts. Implementations must not block the caller for long
// and must never fail the caller: delivery errors are logged, not returned.
type Sink interface {
	Send(ctx context.Context, level Level, message string, fields Fields)
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Send(ctx context.Context, level Level, message string, fields Fields) {
	for _, s := range m {
		s.Send(ctx, level, message, fields)
	}
}
