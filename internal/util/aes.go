package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// SealKeySize is the AES-256 key length used for stored values.
	SealKeySize = 32
	// SealNonceSize prefixes every sealed value.
	SealNonceSize = 12
)

func gcmFor(key []byte) (cipher.AEAD, error) {
	if len(key) != SealKeySize {
		return nil, fmt.Errorf("seal key is %d bytes, want %d", len(key), SealKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealGCM encrypts value under key and returns nonce || ciphertext. aad binds
// the result to the storage key it is written under.
func SealGCM(key, value, aad []byte) ([]byte, error) {
	gcm, err := gcmFor(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, SealNonceSize, SealNonceSize+len(value)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, value, aad), nil
}

// OpenGCM reverses SealGCM. A value moved to another storage key fails here.
func OpenGCM(key, sealed, aad []byte) ([]byte, error) {
	gcm, err := gcmFor(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < SealNonceSize {
		return nil, fmt.Errorf("sealed value too short")
	}
	value, err := gcm.Open(nil, sealed[:SealNonceSize], sealed[SealNonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("opening sealed value: %w", err)
	}
	return value, nil
}

// NewSealKey returns a random seal key.
func NewSealKey() ([]byte, error) {
	k := make([]byte, SealKeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("generating seal key: %w", err)
	}
	return k, nil
}
