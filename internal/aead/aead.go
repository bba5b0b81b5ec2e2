// Package aead implements the passphrase-derived authenticated encryptor
// (spec §4.1): PBKDF2-SHA256 key derivation over the envelope's random salt,
// and AES-256-GCM seal/open with optional associated data. Every failure
// path collapses into the single opaque failure.ErrDecryptionFailed so a
// caller can never distinguish a wrong passphrase from a tampered tag from
// truncated ciphertext.
//
// Grounded on backkem-matter/pkg/crypto/kdf.go (PBKDF2SHA256 call shape) and
// other_examples' atvirokodosprendimai-wgmesh pkg/crypto/envelope.go
// (SealEnvelope/OpenEnvelopeRaw AES-GCM shape and single-error collapse).
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/n0remac/p2pcall/internal/failure"
)

// MinIterations is the minimum PBKDF2 iteration count spec §4.1 requires.
const MinIterations = 600_000

// KeySize is the derived symmetric key length in bytes (AES-256).
const KeySize = 32

// NonceSize is the AES-GCM nonce length in bytes (96 bits).
const NonceSize = 12

// MinSaltSize is the minimum accepted envelope salt length (spec §3).
const MinSaltSize = 16

// DeriveKey derives a 256-bit key from passphrase||":"||roomCode using
// PBKDF2-HMAC-SHA256 with the envelope's random salt.
func DeriveKey(passphrase, roomCode string, salt []byte) []byte {
	material := passphrase + ":" + roomCode
	return pbkdf2.Key([]byte(material), salt, MinIterations, KeySize, sha256.New)
}

// NewNonce draws a fresh random 96-bit nonce from crypto/rand.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	return nonce, nil
}

// NewSalt draws a fresh random salt of at least MinSaltSize bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, MinSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("aead: generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext under the derived key, binding associatedData
// into the authentication tag without encrypting it.
func Seal(key, nonce, plaintext, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("aead: nonce must be %d bytes", gcm.NonceSize())
	}
	return gcm.Seal(nil, nonce, plaintext, associatedData), nil
}

// Open decrypts ciphertext under the derived key, verifying associatedData
// against the authentication tag. Any failure — wrong key, tampered
// associated data, truncated ciphertext, bad tag — returns exactly
// failure.ErrDecryptionFailed; the underlying cause is never distinguishable
// to the caller (spec §4.1's side-channel requirement).
func Open(key, nonce, ciphertext, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, failure.ErrDecryptionFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, failure.ErrDecryptionFailed
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, failure.ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, failure.ErrDecryptionFailed
	}
	return plaintext, nil
}
