package crypto

import (
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultKDFIterations is the PBKDF2 work factor applied to every
	// database passphrase.
	DefaultKDFIterations = 64000
	DefaultSaltLen       = 16
	MinSaltLen           = 16
	KeyLen               = chacha20poly1305.KeySize
)

var ErrInvalidKDFParams = errors.New("invalid kdf parameters")

type KDFParams struct {
	Iterations int
	SaltLen    int
	KeyLen     int
}

func DefaultKDFParams() KDFParams {
	return KDFParams{
		Iterations: DefaultKDFIterations,
		SaltLen:    DefaultSaltLen,
		KeyLen:     KeyLen,
	}
}

func (p KDFParams) Validate() error {
	switch {
	case p.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be > 0", ErrInvalidKDFParams)
	case p.SaltLen < MinSaltLen:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidKDFParams, MinSaltLen)
	case p.KeyLen != KeyLen:
		return fmt.Errorf("%w: key length must be %d", ErrInvalidKDFParams, KeyLen)
	default:
		return nil
	}
}

// DeriveKeyFromPassphrase runs PBKDF2-HMAC-SHA512 over the passphrase.
func DeriveKeyFromPassphrase(passphrase, salt []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase must not be empty", ErrInvalidKDFParams)
	}
	if len(salt) < params.SaltLen {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidKDFParams, params.SaltLen)
	}

	return pbkdf2.Key(passphrase, salt, params.Iterations, params.KeyLen, sha512.New), nil
}
