package storage

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication = errors.New("storage: wrong password while decrypting the database")
	ErrInput          = errors.New("storage: invalid input")
	ErrNotFound       = errors.New("storage: not found")
	ErrNotConnected   = errors.New("storage: no open database connection")
	ErrLocked         = errors.New("storage: database is in use by another process")
)

// AuthenticationError reports a passphrase that cannot decrypt the database
// file. The file on disk is left untouched.
type AuthenticationError struct {
	Path string
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wrong password while decrypting the database %s", e.Path)
	}
	return fmt.Sprintf("wrong password while decrypting the database %s: %v", e.Path, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// InputError reports caller misuse.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInput }

func inputErrorf(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is the recoverable failure of an update or delete that
// matched no row. Nothing is committed when it is returned.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
