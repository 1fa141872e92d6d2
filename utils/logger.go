package utils

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

var logLevels = map[string]slog.Level{
	"trace": log.LevelTrace,
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
	"crit":  log.LevelCrit,
}

// NewLogger builds a terminal or JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level string, json bool) (log.Logger, error) {
	lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	if json {
		return log.NewLogger(log.JSONHandlerWithLevel(w, lvl)), nil
	}
	return log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, false)), nil
}
