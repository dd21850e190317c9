package crypto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyFromPassphraseDeterministic(t *testing.T) {
	t.Parallel()

	params := KDFParams{Iterations: 1, SaltLen: MinSaltLen, KeyLen: KeyLen}
	salt := []byte("saltsaltsaltsalt")

	got, err := DeriveKeyFromPassphrase([]byte("password"), salt, params)
	require.NoError(t, err)
	require.Equal(t, mustDecodeHex(t, "ccc6bd2cbf575bd344c9cf542877fc6e9372cbf1f1e1df392c6cf5f6038bb574"), got)

	again, err := DeriveKeyFromPassphrase([]byte("password"), salt, params)
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := DeriveKeyFromPassphrase([]byte("password2"), salt, params)
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestKDFParamsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultKDFParams().Validate())
	require.Equal(t, 64000, DefaultKDFParams().Iterations)

	bad := DefaultKDFParams()
	bad.Iterations = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidKDFParams)

	bad = DefaultKDFParams()
	bad.SaltLen = 8
	require.ErrorIs(t, bad.Validate(), ErrInvalidKDFParams)

	_, err := DeriveKeyFromPassphrase(nil, bytes.Repeat([]byte{1}, 16), DefaultKDFParams())
	require.ErrorIs(t, err, ErrInvalidKDFParams)
}

func TestXChaCha20Poly1305KAT(t *testing.T) {
	t.Parallel()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	nonce := make([]byte, 24)
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}

	plaintext := []byte("rotki-xchacha20poly1305-kat")
	aad := []byte("rotki.db.v1")

	got, err := SealXChaCha20Poly1305(key, nonce, plaintext, aad)
	require.NoError(t, err)
	require.Equal(t, mustDecodeHex(t, "ce9426f1c231c0505d69d4c10d42f66362a17f1f39f2cdf46a2d40d60765fd30308f6e6cde442b8dc4e46e"), got)

	opened, err := OpenXChaCha20Poly1305(key, nonce, got, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	_, err = OpenXChaCha20Poly1305(key, nonce, got, []byte("other"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestAEADRejectsBadKeyLength(t *testing.T) {
	t.Parallel()

	_, err := SealXChaCha20Poly1305(make([]byte, 16), make([]byte, 24), []byte("x"), nil)
	require.ErrorIs(t, err, ErrInvalidAEADInput)
}

func TestHKDFSHA256KAT(t *testing.T) {
	t.Parallel()

	ikm := bytes.Repeat([]byte{0x0b}, 22)
	salt := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c}
	info := []byte{0xf0, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8, 0xf9}

	got, err := DeriveHKDFSHA256(ikm, salt, info, 42)
	require.NoError(t, err)
	require.Equal(t, mustDecodeHex(t, "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865"), got)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("correct horse"), 1000)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)

	image := []byte("SQLite format 3\x00 pretend page data")
	sealed, err := key.Seal(image)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "pretend page data")

	reopened, plaintext, err := OpenEnvelope(sealed, []byte("correct horse"), 1000)
	require.NoError(t, err)
	t.Cleanup(reopened.Destroy)
	require.Equal(t, image, plaintext)
	require.Equal(t, 1000, reopened.Iterations())

	// The reopened key keeps the salt, so it can reseal the same file.
	resealed, err := reopened.Seal(plaintext)
	require.NoError(t, err)
	_, again, err := OpenEnvelope(resealed, []byte("correct horse"), 1000)
	require.NoError(t, err)
	require.Equal(t, image, again)
}

func TestEnvelopeWrongPassphrase(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("right"), 1000)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)

	sealed, err := key.Seal([]byte("data"))
	require.NoError(t, err)

	_, _, err = OpenEnvelope(sealed, []byte("wrong"), 1000)
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, _, err = OpenEnvelope(sealed, []byte("right"), 2000)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestEnvelopeTamperedCiphertext(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("right"), 1000)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)

	sealed, err := key.Seal([]byte("data"))
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(sealed, &envelope))
	envelope.Ciphertext[0] ^= 0xff
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, _, err = OpenEnvelope(tampered, []byte("right"), 1000)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := OpenEnvelope([]byte("SQLite format 3\x00"), []byte("pw"), 1000)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEnvelopeRejectsShortNonce(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("pw"), 1000)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	sealed, err := key.Seal([]byte("data"))
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(sealed, &envelope))
	envelope.Nonce = envelope.Nonce[:12]
	truncated, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, _, err = OpenEnvelope(truncated, []byte("pw"), 1000)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
	_, err = key.Open(truncated)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestDatabaseKeyOpensOnlyItsOwnEnvelopes(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("pw"), 1000)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	other, err := NewDatabaseKey([]byte("pw"), 1000)
	require.NoError(t, err)
	t.Cleanup(other.Destroy)

	sealed, err := key.Seal([]byte("image"))
	require.NoError(t, err)
	plaintext, err := key.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("image"), plaintext)

	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestInspectEnvelopeReadsHeaderOnly(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("pw"), 1000)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	sealed, err := key.Seal([]byte("image"))
	require.NoError(t, err)

	info, err := InspectEnvelope(sealed)
	require.NoError(t, err)
	require.Equal(t, EnvelopeInfo{Version: 1, KDF: "pbkdf2-sha512", Iterations: 1000, CiphertextBytes: len("image") + 16}, info)

	_, err = InspectEnvelope([]byte("{}"))
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestDestroyedKeyCannotSeal(t *testing.T) {
	t.Parallel()

	key, err := NewDatabaseKey([]byte("pw"), 1000)
	require.NoError(t, err)
	key.Destroy()

	_, err = key.Seal([]byte("data"))
	require.ErrorIs(t, err, ErrKeyNotReady)
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()

	out, err := hex.DecodeString(value)
	require.NoError(t, err)
	return out
}
