package service

import (
	"context"
	"fmt"
	"kis_trader/pkg/logger"
	"sort"
	"strings"
)

// Log writes alerts through the zap logger.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (Log) Send(_ context.Context, level Level, message string, fields Fields) {
	line := message + " " + flatten(fields)
	switch level {
	case LevelError, LevelCritical:
		logger.Error("[ALERT %s] %s", level, line)
	case LevelWarning:
		logger.Warn("[ALERT %s] %s", level, line)
	default:
		logger.Info("[ALERT %s] %s", level, line)
	}
}

func flatten(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
