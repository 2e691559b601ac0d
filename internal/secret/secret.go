// Package secret seals small values (API tokens) at rest.
//
// A Sealer derives its key from a deployment master key and a purpose label,
// so ciphertext produced for one purpose cannot be opened under another.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// TrackerTokenPurpose scopes tracker API tokens.
const TrackerTokenPurpose = "issuesync.tracker-token.v1"

// MinMasterKeyLength is the minimum accepted master key size in bytes.
const MinMasterKeyLength = 32

var (
	// ErrMasterKeyTooShort is returned when the master key is too weak to derive from.
	ErrMasterKeyTooShort = fmt.Errorf("master key must be at least %d bytes", MinMasterKeyLength)
	// ErrDecrypt is returned when ciphertext cannot be opened.
	ErrDecrypt = errors.New("cannot decrypt value")
)

// Encrypter is the capability injected into components that persist secrets.
type Encrypter interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Sealer implements Encrypter with XChaCha20-Poly1305 under an HKDF-derived key.
type Sealer struct {
	purpose string
	aead    cipher.AEAD
}

// Compile-time interface check
var _ Encrypter = (*Sealer)(nil)

// NewSealer derives a purpose-scoped key from masterKey.
func NewSealer(masterKey []byte, purpose string) (*Sealer, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, ErrMasterKeyTooShort
	}
	if purpose == "" {
		return nil, errors.New("purpose label is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Sealer{purpose: purpose, aead: aead}, nil
}

// NewSealerFromString decodes a base64 master key, falling back to the raw
// bytes when the value is not valid base64.
func NewSealerFromString(masterKey, purpose string) (*Sealer, error) {
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil {
		return NewSealer(decoded, purpose)
	}
	return NewSealer([]byte(masterKey), purpose)
}

// Encrypt seals plaintext. Output layout is nonce || ciphertext.
func (s *Sealer) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(s.purpose)), nil
}

// Decrypt opens a value produced by Encrypt under the same purpose.
func (s *Sealer) Decrypt(ciphertext []byte) (string, error) {
	n := s.aead.NonceSize()
	if len(ciphertext) < n {
		return "", ErrDecrypt
	}
	plain, err := s.aead.Open(nil, ciphertext[:n], ciphertext[n:], []byte(s.purpose))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
