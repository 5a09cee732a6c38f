// Package logging builds the process logger: leveled console output plus an
// optional size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `dialsdesc:"Log level: debug, info, warn or error"`
	File       string `dialsdesc:"Log file path, strftime patterns allowed; empty logs to stderr only"`
	MaxSizeMB  int    `dialsdesc:"Rotate the log file after this many megabytes"`
	MaxBackups int    `dialsdesc:"Rotated log files to keep"`
	MaxAgeDays int    `dialsdesc:"Days to keep rotated log files"`
	Compress   bool   `dialsdesc:"Gzip rotated log files"`
}

func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// New returns a logger writing to stderr and, if configured, the log file.
// The returned closer releases the file.
func New(cfg *Config) (*log.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr, time.Now())
}

func newLogger(cfg *Config, console io.Writer, now time.Time) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	w := console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		path, err := FilePath(cfg.File, now)
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(console, rotating)
		closer = rotating
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05.000",
		Level:           level,
	})
	return logger, closer, nil
}

// FilePath expands strftime verbs in pattern.
func FilePath(pattern string, now time.Time) (string, error) {
	path, err := strftime.Format(pattern, now)
	if err != nil {
		return "", fmt.Errorf("log file pattern %q: %w", pattern, err)
	}
	return path, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
