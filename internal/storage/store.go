package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sevdimali/rotki/internal/crypto"
)

const (
	DatabaseFileName = "rotkehlchen.db"
	BackupFileName   = "rotkehlchen_temp_backup.db"
	LockFileName     = "rotkehlchen.lock"

	pragmaForeignKeysOn = `PRAGMA foreign_keys=ON`
)

// Options tune a Store. The zero value is usable.
type Options struct {
	Engine         Engine
	Logger         *slog.Logger
	Now            func() time.Time
	KDFIterations  int
	CreateScript   string
	ReimportScript string
}

// Store is the handle on one user's encrypted database. All accessors go
// through the single connection it owns.
type Store struct {
	mu sync.Mutex

	dir      string
	username string
	path     string
	conn     Conn
	lock     *os.File

	engine         Engine
	logger         *slog.Logger
	now            func() time.Time
	kdfIterations  int
	createScript   string
	reimportScript string
}

// Open connects to dir/rotkehlchen.db, creating it when absent, and makes
// sure the schema and version setting exist. A passphrase that does not
// decrypt an existing file yields an *AuthenticationError.
func Open(ctx context.Context, dir, username string, passphrase []byte, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("open storage: empty directory")
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("open storage: passphrase is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("open storage: create user dir: %w", err)
	}

	s := &Store{
		dir:            dir,
		username:       username,
		path:           filepath.Join(dir, DatabaseFileName),
		engine:         opts.Engine,
		logger:         opts.Logger,
		now:            opts.Now,
		kdfIterations:  opts.KDFIterations,
		createScript:   opts.CreateScript,
		reimportScript: opts.ReimportScript,
	}
	if s.engine == nil {
		s.engine = NewSealedEngine()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "storage", "user", username)
	if s.now == nil {
		s.now = time.Now
	}
	if s.kdfIterations <= 0 {
		s.kdfIterations = crypto.DefaultKDFIterations
	}
	if s.createScript == "" {
		s.createScript = CreateTablesScript()
	}
	if s.reimportScript == "" {
		s.reimportScript = ReimportScript()
	}

	if err := s.connect(ctx, passphrase); err != nil {
		return nil, err
	}
	s.logger.Info("database opened", "path", s.path)
	return s, nil
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close releases the connection. Closing an already closed store returns
// ErrNotConnected.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		s.releaseLock()
		return ErrNotConnected
	}
	err := s.conn.Close()
	s.conn = nil
	s.releaseLock()
	if err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	s.logger.Info("database closed", "path", s.path)
	return nil
}

// Reconnect drops the current connection, if any, and opens the database
// file again with passphrase.
func (s *Store) Reconnect(ctx context.Context, passphrase []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("close before reconnect failed", "error", err)
		}
		s.conn = nil
	}
	return s.connect(ctx, passphrase)
}

// ReimportAllTables rebuilds every table from its own rows. It is a manual
// maintenance tool for column type changes, not a migration path.
func (s *Store) ReimportAllTables(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	s.logger.Warn("reimporting all tables")
	if err := conn.ExecScript(ctx, s.reimportScript); err != nil {
		_, _ = conn.DB().ExecContext(ctx, `ROLLBACK`)
		_, _ = conn.DB().ExecContext(ctx, pragmaForeignKeysOn)
		return fmt.Errorf("reimport all tables: %w", err)
	}
	return s.commitMaintenance(ctx, conn, "reimport all tables")
}

// DropTimeSeries discards all balance and location history and recreates
// the empty tables in the same transaction.
func (s *Store) DropTimeSeries(ctx context.Context) error {
	return s.write(ctx, "drop time series", advanceLastWrite, func(tx *sql.Tx) error {
		for _, table := range timeSeriesTables {
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.createScript); err != nil {
			return fmt.Errorf("recreate tables: %w", err)
		}
		return nil
	})
}

// ExportUnencrypted writes a plaintext SQLite copy of the whole database to
// destination, which must not exist yet.
func (s *Store) ExportUnencrypted(ctx context.Context, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	if err := conn.ExportPlaintext(ctx, destination); err != nil {
		return fmt.Errorf("export unencrypted: %w", err)
	}
	s.logger.Info("exported unencrypted copy", "destination", destination)
	return nil
}

// ImportUnencrypted replaces the database with the plaintext SQLite image
// data, encrypted under newPassphrase, and reconnects with it.
//
// The previous encrypted file is copied to BackupFileName first and that
// copy is removed only once the new file has been reopened and decrypted.
// On any failure the backup stays on disk, it is not restored, and the store
// is left disconnected. A backup left by an earlier failed import is never
// overwritten; the import is refused until it is moved away.
func (s *Store) ImportUnencrypted(ctx context.Context, data, newPassphrase []byte) error {
	if len(newPassphrase) == 0 {
		return inputErrorf("import unencrypted: new passphrase is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A closed store holds no lock, and another Store may own the file.
	if s.lock == nil {
		lock, err := lockDir(s.dir)
		if err != nil {
			return fmt.Errorf("import unencrypted: %w", err)
		}
		s.lock = lock
	}

	backupPath := filepath.Join(s.dir, BackupFileName)
	if _, err := os.Stat(backupPath); err == nil {
		if s.conn == nil {
			s.releaseLock()
		}
		return fmt.Errorf("import unencrypted: backup %s from an earlier import still exists", backupPath)
	}
	if err := copyFile(s.path, backupPath); err != nil {
		if s.conn == nil {
			s.releaseLock()
		}
		return fmt.Errorf("import unencrypted: back up %s: %w", s.path, err)
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("close before import failed", "error", err)
		}
		s.conn = nil
	}

	if err := s.importPlaintext(ctx, data, newPassphrase); err != nil {
		s.logger.Error("import unencrypted failed, backup kept", "backup", backupPath, "error", err)
		s.releaseLock()
		return fmt.Errorf("import unencrypted: %w (backup kept at %s)", err, backupPath)
	}

	if err := os.Remove(backupPath); err != nil {
		return fmt.Errorf("import unencrypted: remove backup: %w", err)
	}
	s.logger.Info("imported unencrypted database", "path", s.path)
	return nil
}

func (s *Store) importPlaintext(ctx context.Context, data, newPassphrase []byte) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}

	tmpDir, err := os.MkdirTemp("", "rotki-import-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tempDBPath := filepath.Join(tmpDir, "temp.db")
	if err := os.WriteFile(tempDBPath, data, 0o600); err != nil {
		return fmt.Errorf("write plaintext copy: %w", err)
	}

	plain, err := s.engine.Connect(ctx, tempDBPath, Key{})
	if err != nil {
		return fmt.Errorf("open plaintext copy: %w", err)
	}
	exportErr := plain.ExportEncrypted(ctx, s.path, Key{Passphrase: newPassphrase, KDFIterations: s.kdfIterations})
	closeErr := plain.Close()
	if exportErr != nil {
		return exportErr
	}
	if closeErr != nil {
		return fmt.Errorf("close plaintext copy: %w", closeErr)
	}

	return s.connect(ctx, newPassphrase)
}

// connect must be called with s.mu held or before s is shared. It takes the
// directory lock when not already held and gives it back on failure.
func (s *Store) connect(ctx context.Context, passphrase []byte) (err error) {
	if s.lock == nil {
		lock, err := lockDir(s.dir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		s.lock = lock
	}
	defer func() {
		if err != nil {
			s.releaseLock()
		}
	}()

	_, statErr := os.Stat(s.path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	conn, err := s.engine.Connect(ctx, s.path, Key{Passphrase: passphrase, KDFIterations: s.kdfIterations})
	if err != nil {
		if errors.Is(err, ErrDecryptFailed) {
			return &AuthenticationError{Path: s.path, Err: err}
		}
		return fmt.Errorf("open storage: %w", err)
	}

	if err := initialize(ctx, conn, s.createScript, isNew); err != nil {
		_ = conn.Close()
		if errors.Is(err, ErrDecryptFailed) {
			return &AuthenticationError{Path: s.path, Err: err}
		}
		return err
	}
	s.conn = conn
	return nil
}

func initialize(ctx context.Context, conn Conn, createScript string, isNew bool) error {
	if _, err := conn.DB().ExecContext(ctx, pragmaForeignKeysOn); err != nil {
		return fmt.Errorf("open storage: %q: %w", pragmaForeignKeysOn, err)
	}
	if err := conn.ExecScript(ctx, createScript); err != nil {
		return fmt.Errorf("open storage: create tables: %w", err)
	}

	result, err := conn.DB().ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(name, value) VALUES(?, ?)`,
		settingVersion, fmt.Sprint(SchemaVersion))
	if err != nil {
		return fmt.Errorf("open storage: record schema version: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("open storage: record schema version: rows affected: %w", err)
	}

	if isNew || inserted > 0 {
		if err := conn.Persist(ctx); err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	}
	return nil
}

func (s *Store) releaseLock() {
	if err := unlockDir(s.lock); err != nil {
		s.logger.Warn("release directory lock failed", "error", err)
	}
	s.lock = nil
}

func (s *Store) activeConn() (Conn, error) {
	if s == nil || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *Store) commitMaintenance(ctx context.Context, conn Conn, op string) error {
	tx, err := conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := s.advanceLastWrite(ctx, tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return s.persist(ctx, conn, op)
}

// persist seals committed changes to disk. If that fails the in-memory
// database is reverted to the last sealed image, so a failed write leaves
// nothing behind.
func (s *Store) persist(ctx context.Context, conn Conn, op string) error {
	err := conn.Persist(ctx)
	if err == nil {
		return nil
	}
	if revertErr := conn.Revert(context.WithoutCancel(ctx)); revertErr != nil {
		s.logger.Error("revert after failed persist", "op", op, "error", revertErr)
		return fmt.Errorf("%s: %w", op, errors.Join(err, revertErr))
	}
	return fmt.Errorf("%s: %w", op, err)
}

type writeMode int

const (
	advanceLastWrite writeMode = iota
	keepLastWrite
)

// write runs fn in one transaction, bumps last_write_ts unless told not to,
// commits and persists before returning. Any error means nothing changed.
func (s *Store) write(ctx context.Context, op string, mode writeMode, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.activeConn()
	if err != nil {
		return err
	}

	tx, err := conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrapOp(op, err)
	}
	if mode == advanceLastWrite {
		if err := s.advanceLastWrite(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return s.persist(ctx, conn, op)
}

func (s *Store) read(ctx context.Context, fn func(db *sql.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.activeConn()
	if err != nil {
		return err
	}
	return fn(conn.DB())
}

// wrapOp adds the operation name to fatal errors. Caller-facing errors keep
// their message untouched.
func wrapOp(op string, err error) error {
	var inputErr *InputError
	var notFoundErr *NotFoundError
	if errors.As(err, &inputErr) || errors.As(err, &notFoundErr) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// ProbeLock returns an error wrapping ErrLocked when a Store currently holds
// dir. It does not keep the lock.
func ProbeLock(dir string) error {
	file, err := lockDir(dir)
	if err != nil {
		return err
	}
	return unlockDir(file)
}
