// Package log builds the slog logger used by rotki-db: secret-named
// attributes are redacted and file output is rotated by size.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options select the level, the format and an optional log file.
type Options struct {
	Level    string
	JSON     bool
	Rotation RotationConfig
}

// NewLogger builds a redacting slog logger. Output goes to the rotating file
// when Rotation.File is set and to fallback otherwise. The returned closer
// releases the file and is never nil.
func NewLogger(opts Options, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := fallback
	var closer io.Closer = nopCloser{}
	if opts.Rotation.File != "" {
		writer, err := NewRotatingWriter(opts.Rotation)
		if err != nil {
			return nil, nil, err
		}
		out, closer = writer, writer
	}
	if out == nil {
		out = io.Discard
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if opts.JSON || opts.Rotation.File != "" {
		base = slog.NewJSONHandler(out, handlerOpts)
	} else {
		base = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(NewRedactingHandler(base)), closer, nil
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
