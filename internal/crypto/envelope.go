package crypto

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeFormatVersion = 1
	envelopeKDF           = "pbkdf2-sha512"
)

var envelopeAAD = []byte("rotki.db.v1")

var (
	ErrInvalidEnvelope = errors.New("invalid database envelope")
	ErrKeyNotReady     = errors.New("database key not ready")
)

// Envelope is the on-disk form of an encrypted database image. Binary fields
// are base64 encoded by encoding/json.
type Envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"kdf_iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Commitment []byte `json:"commitment"`
	Ciphertext []byte `json:"ciphertext"`
}

// DatabaseKey is a passphrase-derived key together with the salt and work
// factor it was derived with. The key bytes live in a memguard enclave until
// Destroy.
type DatabaseKey struct {
	key        *memguard.LockedBuffer
	salt       []byte
	iterations int
}

// NewDatabaseKey derives a key for a brand new database under a fresh salt.
func NewDatabaseKey(passphrase []byte, iterations int) (*DatabaseKey, error) {
	params := DefaultKDFParams()
	params.Iterations = iterations

	salt, err := randomBytes(params.SaltLen)
	if err != nil {
		return nil, fmt.Errorf("new database key: generate salt: %w", err)
	}
	return deriveDatabaseKey(passphrase, salt, params)
}

// OpenEnvelope parses raw, derives the key with the envelope's salt and the
// requested iteration count, and decrypts the database image. Any mismatch
// (wrong passphrase, different work factor, tampered bytes) is reported as
// ErrAuthenticationFailed.
func OpenEnvelope(raw, passphrase []byte, iterations int) (*DatabaseKey, []byte, error) {
	envelope, err := decodeEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}
	if envelope.Iterations != iterations {
		return nil, nil, fmt.Errorf("%w: kdf iteration count mismatch", ErrAuthenticationFailed)
	}

	params := DefaultKDFParams()
	params.Iterations = iterations
	params.SaltLen = len(envelope.Salt)
	dk, err := deriveDatabaseKey(passphrase, envelope.Salt, params)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := dk.open(envelope)
	if err != nil {
		dk.Destroy()
		return nil, nil, err
	}
	return dk, plaintext, nil
}

// Open decrypts an envelope previously sealed under k. An envelope sealed
// under any other key is reported as ErrAuthenticationFailed.
func (k *DatabaseKey) Open(raw []byte) ([]byte, error) {
	if err := k.ensureReady(); err != nil {
		return nil, err
	}
	envelope, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if envelope.Iterations != k.iterations || !hmac.Equal(envelope.Salt, k.salt) {
		return nil, fmt.Errorf("%w: envelope sealed under another key", ErrAuthenticationFailed)
	}
	return k.open(envelope)
}

func (k *DatabaseKey) open(envelope Envelope) ([]byte, error) {
	tag, err := ComputeCommitmentTag(k.key.Bytes(), k.salt)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(tag, envelope.Commitment) {
		return nil, fmt.Errorf("%w: key commitment mismatch", ErrAuthenticationFailed)
	}
	return OpenXChaCha20Poly1305(k.key.Bytes(), envelope.Nonce, envelope.Ciphertext, envelopeAAD)
}

// EnvelopeInfo is the unauthenticated header of an envelope.
type EnvelopeInfo struct {
	Version         int    `json:"version"`
	KDF             string `json:"kdf"`
	Iterations      int    `json:"kdf_iterations"`
	CiphertextBytes int    `json:"ciphertext_bytes"`
}

// InspectEnvelope checks that raw is a well-formed envelope and reports its
// header. Nothing is decrypted, so a valid header says nothing about the
// passphrase.
func InspectEnvelope(raw []byte) (EnvelopeInfo, error) {
	envelope, err := decodeEnvelope(raw)
	if err != nil {
		return EnvelopeInfo{}, err
	}
	return EnvelopeInfo{
		Version:         envelope.Version,
		KDF:             envelope.KDF,
		Iterations:      envelope.Iterations,
		CiphertextBytes: len(envelope.Ciphertext),
	}, nil
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: decode: %v", ErrInvalidEnvelope, err)
	}
	if envelope.Version != envelopeFormatVersion {
		return Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, envelope.Version)
	}
	if envelope.KDF != envelopeKDF {
		return Envelope{}, fmt.Errorf("%w: unsupported kdf %q", ErrInvalidEnvelope, envelope.KDF)
	}
	if len(envelope.Salt) < MinSaltLen {
		return Envelope{}, fmt.Errorf("%w: salt too short", ErrInvalidEnvelope)
	}
	if len(envelope.Nonce) != chacha20poly1305.NonceSizeX {
		return Envelope{}, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidEnvelope, chacha20poly1305.NonceSizeX)
	}
	return envelope, nil
}

// Seal encrypts a database image under a fresh nonce and returns the encoded
// envelope.
func (k *DatabaseKey) Seal(plaintext []byte) ([]byte, error) {
	if err := k.ensureReady(); err != nil {
		return nil, err
	}

	nonce, err := randomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("seal database: %w", err)
	}
	ciphertext, err := SealXChaCha20Poly1305(k.key.Bytes(), nonce, plaintext, envelopeAAD)
	if err != nil {
		return nil, fmt.Errorf("seal database: %w", err)
	}
	tag, err := ComputeCommitmentTag(k.key.Bytes(), k.salt)
	if err != nil {
		return nil, fmt.Errorf("seal database: %w", err)
	}

	out, err := json.Marshal(Envelope{
		Version:    envelopeFormatVersion,
		KDF:        envelopeKDF,
		Iterations: k.iterations,
		Salt:       append([]byte(nil), k.salt...),
		Nonce:      nonce,
		Commitment: tag,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("seal database: encode envelope: %w", err)
	}
	return out, nil
}

func (k *DatabaseKey) Iterations() int {
	if k == nil {
		return 0
	}
	return k.iterations
}

func (k *DatabaseKey) Destroy() {
	if k == nil || k.key == nil {
		return
	}
	if k.key.IsAlive() {
		k.key.Destroy()
	}
	k.key = nil
}

func (k *DatabaseKey) ensureReady() error {
	if k == nil || k.key == nil || !k.key.IsAlive() {
		return ErrKeyNotReady
	}
	return nil
}

func deriveDatabaseKey(passphrase, salt []byte, params KDFParams) (*DatabaseKey, error) {
	raw, err := DeriveKeyFromPassphrase(passphrase, salt, params)
	if err != nil {
		return nil, fmt.Errorf("derive database key: %w", err)
	}

	buf := memguard.NewBufferFromBytes(raw)
	memguard.WipeBytes(raw)
	return &DatabaseKey{
		key:        buf,
		salt:       append([]byte(nil), salt...),
		iterations: params.Iterations,
	}, nil
}
