package log

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig mirrors the [logging] section of the config file. Zero
// sizes fall back to 10 MiB per file and five rotated files.
type RotationConfig struct {
	File      string
	MaxSizeMB int
	MaxFiles  int
}

func (c RotationConfig) withDefaults() RotationConfig {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = 5
	}
	return c
}

// NewRotatingWriter opens cfg.File for appending, creating its directory
// 0700. Rotated names carry local time so they line up with the timestamps
// in the user's data directory.
func NewRotatingWriter(cfg RotationConfig) (*lumberjack.Logger, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("log file path must not be empty")
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		LocalTime:  true,
	}, nil
}
