// Package debug collects a passphrase-free health report on one user's data
// directory.
package debug

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sevdimali/rotki/internal/crypto"
	"github.com/sevdimali/rotki/internal/storage"
)

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Bundle struct {
	GeneratedAt string               `json:"generated_at"`
	GOOS        string               `json:"goos"`
	GOARCH      string               `json:"goarch"`
	Version     map[string]any       `json:"version,omitempty"`
	User        string               `json:"user,omitempty"`
	UserDir     string               `json:"user_dir,omitempty"`
	Envelope    *crypto.EnvelopeInfo `json:"envelope,omitempty"`
	Checks      []Check              `json:"checks"`
	Notes       []string             `json:"notes,omitempty"`
}

func NewBundle(now time.Time) Bundle {
	return Bundle{
		GeneratedAt: now.UTC().Format(time.RFC3339Nano),
		GOOS:        runtime.GOOS,
		GOARCH:      runtime.GOARCH,
		Checks:      []Check{},
	}
}

// Record appends a check that passed when err is nil.
func (b *Bundle) Record(name string, err error, okMessage string) {
	if err != nil {
		b.Checks = append(b.Checks, Check{Name: name, Message: err.Error()})
		return
	}
	b.Checks = append(b.Checks, Check{Name: name, OK: true, Message: okMessage})
}

func (b Bundle) Healthy() bool {
	for _, check := range b.Checks {
		if !check.OK {
			return false
		}
	}
	return true
}

// InspectUserDir runs the on-disk checks for userDir: the directory, the
// envelope header, the process lock and a leftover import backup. The
// passphrase is never needed.
func InspectUserDir(b *Bundle, userDir string) {
	b.UserDir = userDir

	info, err := os.Stat(userDir)
	switch {
	case err != nil:
		b.Record("user_dir", err, "")
		return
	case !info.IsDir():
		b.Record("user_dir", fmt.Errorf("%s is not a directory", userDir), "")
		return
	case info.Mode().Perm()&0o077 != 0:
		b.Record("user_dir", nil, "present")
		b.Notes = append(b.Notes, fmt.Sprintf("%s is accessible to other users (mode %04o)", userDir, info.Mode().Perm()))
	default:
		b.Record("user_dir", nil, "present")
	}

	raw, err := os.ReadFile(filepath.Join(userDir, storage.DatabaseFileName))
	if err == nil {
		var envelope crypto.EnvelopeInfo
		envelope, err = crypto.InspectEnvelope(raw)
		if err == nil {
			b.Envelope = &envelope
		}
	}
	b.Record("database", err, "envelope header is valid")

	b.Record("lock", storage.ProbeLock(userDir), "not held by another process")

	_, err = os.Stat(filepath.Join(userDir, storage.BackupFileName))
	switch {
	case err == nil:
		b.Record("backup", fmt.Errorf("%s is left over from a failed import", storage.BackupFileName), "")
	case errors.Is(err, os.ErrNotExist):
		b.Record("backup", nil, "no leftover import backup")
	default:
		b.Record("backup", err, "")
	}
}

func WriteBundle(outputPath string, bundle Bundle) error {
	if outputPath == "" {
		return fmt.Errorf("write debug bundle: output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		return fmt.Errorf("write debug bundle: create output directory: %w", err)
	}

	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("write debug bundle: marshal json: %w", err)
	}
	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		return fmt.Errorf("write debug bundle: %w", err)
	}
	return nil
}
