package main

import (
	"fmt"
	"os"

	"github.com/zulandar/muster/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// logFormat resolves the configured format. An empty format means console
// output on a terminal and JSON otherwise.
func logFormat(configured string, isTTY bool) string {
	if configured != "" {
		return configured
	}
	if isTTY {
		return "console"
	}
	return "json"
}

// newLogger builds the process logger from cfg.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	if logFormat(cfg.Format, term.IsTerminal(int(os.Stderr.Fd()))) == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("muster"), nil
}
