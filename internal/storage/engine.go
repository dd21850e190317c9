package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	"modernc.org/sqlite/vfs"

	"github.com/sevdimali/rotki/internal/crypto"
)

var ErrDecryptFailed = errors.New("storage: database decryption failed")

// Key selects how a database file is opened. An empty passphrase opens a
// plaintext SQLite file in place.
type Key struct {
	Passphrase    []byte
	KDFIterations int
}

func (k Key) plaintext() bool { return len(k.Passphrase) == 0 }

// Engine is the encryption capability the store is built on.
type Engine interface {
	Connect(ctx context.Context, path string, key Key) (Conn, error)
}

// Conn is one open database. Writes made through DB become durable only
// after Persist. Revert drops everything written since the last successful
// Persist.
type Conn interface {
	DB() *sql.DB
	ExecScript(ctx context.Context, script string) error
	Persist(ctx context.Context) error
	Revert(ctx context.Context) error
	ExportPlaintext(ctx context.Context, destination string) error
	ExportEncrypted(ctx context.Context, destination string, key Key) error
	Close() error
}

// memoryDSN keeps foreign keys on for every in-memory connection, including
// the ones Revert swaps in.
const memoryDSN = ":memory:?_pragma=foreign_keys(1)"

// imageFileName is the name a database image is served under by imageFS.
const imageFileName = "image.db"

// Both are implemented by modernc.org/sqlite driver connections.
type (
	sqliteSerializer interface {
		Serialize() ([]byte, error)
	}
	sqliteRestorer interface {
		NewRestore(srcURI string) (*sqlite.Backup, error)
	}
)

type sealedEngine struct{}

// NewSealedEngine returns the default engine. Encrypted databases are kept
// as a sealed envelope on disk and decrypted into an in-memory SQLite
// database, so plaintext pages never reach the filesystem.
func NewSealedEngine() Engine {
	return sealedEngine{}
}

func (sealedEngine) Connect(ctx context.Context, path string, key Key) (Conn, error) {
	if path == "" {
		return nil, fmt.Errorf("connect: empty path")
	}
	if key.plaintext() {
		return connectPlaintext(ctx, path)
	}

	var (
		dbKey  *crypto.DatabaseKey
		image  []byte
		sealed []byte
	)
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && len(raw) == 0):
		dbKey, err = crypto.NewDatabaseKey(key.Passphrase, key.KDFIterations)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("connect: read %s: %w", path, err)
	default:
		dbKey, image, err = crypto.OpenEnvelope(raw, key.Passphrase, key.KDFIterations)
		if err != nil {
			if errors.Is(err, crypto.ErrAuthenticationFailed) || errors.Is(err, crypto.ErrInvalidEnvelope) {
				return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
			}
			return nil, fmt.Errorf("connect: %w", err)
		}
		sealed = raw
	}

	conn := &sealedConn{path: path, key: dbKey, sealed: sealed}
	if err := conn.load(ctx, image); err != nil {
		dbKey.Destroy()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

func connectPlaintext(ctx context.Context, path string) (Conn, error) {
	db, err := openSingleConn(path)
	if err != nil {
		return nil, err
	}
	// Opening is lazy; reading the schema rejects files that are not SQLite.
	var tables int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master`).Scan(&tables); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect: %s: %w", path, err)
	}
	return &sealedConn{db: db, path: path}, nil
}

func openSingleConn(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	return db, nil
}

type sealedConn struct {
	db   *sql.DB
	path string
	key  *crypto.DatabaseKey
	// sealed is the envelope last read from or written to path. Nil until the
	// first Persist of a new database.
	sealed []byte
}

func (c *sealedConn) DB() *sql.DB { return c.db }

func (c *sealedConn) ExecScript(ctx context.Context, script string) error {
	if _, err := c.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

func (c *sealedConn) Persist(ctx context.Context) error {
	if c.key == nil {
		return nil
	}
	image, err := c.serialize(ctx)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	sealed, err := c.key.Seal(image)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err := writeFileAtomic(c.path, sealed); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	c.sealed = sealed
	return nil
}

// Revert reloads the last persisted image, or an empty database when nothing
// was persisted yet. Plaintext connections write in place and have nothing
// to go back to.
func (c *sealedConn) Revert(ctx context.Context) error {
	if c.key == nil {
		return nil
	}
	var image []byte
	if c.sealed != nil {
		var err error
		if image, err = c.key.Open(c.sealed); err != nil {
			return fmt.Errorf("revert: %w", err)
		}
	}
	if err := c.load(ctx, image); err != nil {
		return fmt.Errorf("revert: %w", err)
	}
	return nil
}

func (c *sealedConn) ExportPlaintext(ctx context.Context, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o700); err != nil {
		return fmt.Errorf("export plaintext: create parent dir: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `VACUUM INTO ?`, destination); err != nil {
		return fmt.Errorf("export plaintext: %w", err)
	}
	if err := os.Chmod(destination, 0o600); err != nil {
		return fmt.Errorf("export plaintext: set permissions: %w", err)
	}
	return nil
}

func (c *sealedConn) ExportEncrypted(ctx context.Context, destination string, key Key) error {
	if key.plaintext() {
		return fmt.Errorf("export encrypted: passphrase is required")
	}
	image, err := c.serialize(ctx)
	if err != nil {
		return fmt.Errorf("export encrypted: %w", err)
	}
	markRollbackJournal(image)
	target, err := crypto.NewDatabaseKey(key.Passphrase, key.KDFIterations)
	if err != nil {
		return fmt.Errorf("export encrypted: %w", err)
	}
	defer target.Destroy()

	sealed, err := target.Seal(image)
	if err != nil {
		return fmt.Errorf("export encrypted: %w", err)
	}
	if err := writeFileAtomic(destination, sealed); err != nil {
		return fmt.Errorf("export encrypted: %w", err)
	}
	return nil
}

func (c *sealedConn) Close() error {
	c.key.Destroy()
	c.key = nil
	c.sealed = nil
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// load replaces the in-memory database with image. A nil image gives an
// empty database.
func (c *sealedConn) load(ctx context.Context, image []byte) error {
	db, err := openSingleConn(memoryDSN)
	if err != nil {
		return err
	}
	if image != nil {
		if err := restoreImage(ctx, db, image); err != nil {
			_ = db.Close()
			return fmt.Errorf("load database image: %w", err)
		}
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = db
	return nil
}

// restoreImage copies image into db with the SQLite backup API. The image is
// served through a read-only VFS so the plaintext never reaches the
// filesystem and SQLite never takes ownership of Go memory.
func restoreImage(ctx context.Context, db *sql.DB, image []byte) error {
	name, imageVFS, err := vfs.New(imageFS{image: image})
	if err != nil {
		return fmt.Errorf("register image vfs: %w", err)
	}
	defer imageVFS.Close()

	raw, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer raw.Close()

	return raw.Raw(func(driverConn any) error {
		r, ok := driverConn.(sqliteRestorer)
		if !ok {
			return fmt.Errorf("sqlite driver %T does not support restore", driverConn)
		}
		backup, err := r.NewRestore("file:" + imageFileName + "?vfs=" + name)
		if err != nil {
			return err
		}
		for {
			more, err := backup.Step(-1)
			if err != nil {
				_ = backup.Finish()
				return err
			}
			if !more {
				break
			}
		}
		return backup.Finish()
	})
}

func (c *sealedConn) serialize(ctx context.Context) ([]byte, error) {
	var image []byte
	err := c.withSerializer(ctx, func(s sqliteSerializer) error {
		var err error
		image, err = s.Serialize()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("serialize database: %w", err)
	}
	return image, nil
}

func (c *sealedConn) withSerializer(ctx context.Context, fn func(sqliteSerializer) error) error {
	raw, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer raw.Close()

	return raw.Raw(func(driverConn any) error {
		s, ok := driverConn.(sqliteSerializer)
		if !ok {
			return fmt.Errorf("sqlite driver %T does not support serialization", driverConn)
		}
		return fn(s)
	})
}

// markRollbackJournal rewrites the file format bytes of a WAL-mode image to
// the legacy values. Images are loaded through a VFS without shared memory,
// which cannot open WAL databases.
func markRollbackJournal(image []byte) {
	const writeVersion, readVersion = 18, 19
	if len(image) > readVersion && image[writeVersion] == 2 && image[readVersion] == 2 {
		image[writeVersion], image[readVersion] = 1, 1
	}
}

// imageFS is a read-only fs.FS holding a single database image.
type imageFS struct {
	image []byte
}

func (f imageFS) Open(name string) (fs.File, error) {
	if name != imageFileName {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return imageFile{Reader: bytes.NewReader(f.image), size: int64(len(f.image))}, nil
}

type imageFile struct {
	*bytes.Reader
	size int64
}

func (f imageFile) Stat() (fs.FileInfo, error) { return imageInfo{size: f.size}, nil }
func (imageFile) Close() error                 { return nil }

type imageInfo struct {
	size int64
}

func (imageInfo) Name() string       { return imageFileName }
func (i imageInfo) Size() int64      { return i.size }
func (imageInfo) Mode() fs.FileMode  { return 0o400 }
func (imageInfo) ModTime() time.Time { return time.Time{} }
func (imageInfo) IsDir() bool        { return false }
func (imageInfo) Sys() any           { return nil }

// writeFileAtomic replaces path with data through a staging file in the same
// directory so a crash never leaves a half-written database behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	staging := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(staging)
		return fmt.Errorf("sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(staging, path); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
