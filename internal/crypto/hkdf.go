package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const commitmentInfo = "rotki-db-key-commitment-v1"

var ErrInvalidHKDFInput = errors.New("invalid hkdf input")

func DeriveHKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: ikm must not be empty", ErrInvalidHKDFInput)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be > 0", ErrInvalidHKDFInput)
	}

	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive hkdf-sha256 output: %w", err)
	}
	return out, nil
}

// ComputeCommitmentTag binds a derived database key to its salt so a wrong
// passphrase is rejected before any ciphertext is touched.
func ComputeCommitmentTag(key, salt []byte) ([]byte, error) {
	sub, err := DeriveHKDFSHA256(key, salt, []byte(commitmentInfo), sha256.Size)
	if err != nil {
		return nil, fmt.Errorf("compute commitment tag: %w", err)
	}
	mac := hmac.New(sha256.New, sub)
	mac.Write(salt)
	return mac.Sum(nil), nil
}
