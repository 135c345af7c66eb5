package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a profile secret into a SealKeySize key bound to info.
// Different info labels yield unrelated keys from the same secret.
func DeriveKey(secret, info []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("deriving key: empty secret")
	}
	k := make([]byte, SealKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), k); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return k, nil
}
