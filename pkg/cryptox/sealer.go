package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealInfo = "tokend signing-key seal v1"

var (
	// ErrNoMasterKey is returned when neither a key file nor the environment
	// supplies master key material and ephemeral keys are not allowed.
	ErrNoMasterKey = errors.New("cryptox: no master key configured")

	// ErrSealedData is returned for ciphertext that is truncated, tampered
	// with, or sealed under a different key or label.
	ErrSealedData = errors.New("cryptox: cannot open sealed data")
)

// KeySealer encrypts private keys at rest with AES-256-GCM. The AES key is
// derived from the master key material with HKDF-SHA256.
//
// Output layout: [12-byte nonce][ciphertext][16-byte tag].
type KeySealer struct {
	aead cipher.AEAD
}

// NewKeySealer derives a sealing key from master.
func NewKeySealer(master []byte) (*KeySealer, error) {
	if len(master) == 0 {
		return nil, ErrNoMasterKey
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("cryptox: derive sealing key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create GCM: %w", err)
	}

	return &KeySealer{aead: aead}, nil
}

// Seal encrypts plaintext, binding it to label (the key id) as associated
// data so a sealed key cannot be swapped onto another row.
func (s *KeySealer) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open reverses Seal.
func (s *KeySealer) Open(sealed []byte, label string) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrSealedData
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(label))
	if err != nil {
		return nil, ErrSealedData
	}
	return plaintext, nil
}

// LoadMasterKey reads master key material from path, falling back to the
// AUTH_MASTER_KEY environment variable. With allowEphemeral set and nothing
// configured, a random key is returned; anything sealed with it is lost on
// restart, which is only acceptable in development.
func LoadMasterKey(path string, allowEphemeral bool) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cryptox: read master key file: %w", err)
		}
		if material := strings.TrimSpace(string(data)); material != "" {
			return []byte(material), nil
		}
		return nil, fmt.Errorf("%w: %s is empty", ErrNoMasterKey, path)
	}

	if env := os.Getenv("AUTH_MASTER_KEY"); env != "" {
		return []byte(env), nil
	}

	if !allowEphemeral {
		return nil, ErrNoMasterKey
	}
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("cryptox: generate ephemeral master key: %w", err)
	}
	return material, nil
}
