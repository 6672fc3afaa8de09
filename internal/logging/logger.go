// Package logging sets up the controller's structured logger and keeps the SQLite
// history ledger of training attempts and phase transitions.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// #region config
// Config selects the log level, format and optional log file.
type Config struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON       bool   `koanf:"json"`
	File       string `koanf:"file"`
	MemberFile bool   `koanf:"member_file"`
}

// DefaultConfig logs at info level in text form, mirrored into the member's brer<N>.log.
func DefaultConfig() Config {
	return Config{Level: "info", MemberFile: true}
}

// MemberLogPath is the per-member log file used when MemberFile is set and File is empty.
func MemberLogPath(memberDir string, member int) string {
	return filepath.Join(memberDir, fmt.Sprintf("brer%d.log", member))
}
// #endregion config

// #region logger
// NewLogger returns a logger writing to console and, when path is not empty, appending
// to path as well. The returned closer releases the file and is never nil.
func NewLogger(cfg Config, console io.Writer, path string) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	out := console
	var closer io.Closer = nopCloser{}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(console, f)
		closer = f
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           level,
	})
	if cfg.JSON {
		logger.SetFormatter(log.JSONFormatter)
	} else {
		logger.SetFormatter(log.TextFormatter)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
// #endregion logger
