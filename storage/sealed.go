package storage

import (
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sessionsync/internal/util"
)

var sealInfo = []byte("sessionsync/storage/v1")

// SealedBackend encrypts every value before it reaches the wrapped backend.
// The key name is bound as AAD so a value cannot be replayed under another key.
type SealedBackend struct {
	inner Backend
	key   *memguard.Enclave
}

var _ Backend = (*SealedBackend)(nil)

// NewSealedBackend derives a value key from secret and wraps inner.
func NewSealedBackend(inner Backend, secret []byte) (*SealedBackend, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("seal secret is empty")
	}
	k, err := util.DeriveKey(util.CopyBytes(secret), sealInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}
	return &SealedBackend{inner: inner, key: memguard.NewEnclave(k)}, nil
}

func (s *SealedBackend) seal(key, value string) (string, error) {
	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()

	env, err := SealValue(buf.Bytes(), []byte(value), []byte(key))
	if err != nil {
		return "", err
	}
	return EncodeEnvelope(env)
}

func (s *SealedBackend) open(key, sealed string) (string, error) {
	env, err := DecodeEnvelope(sealed)
	if err != nil {
		return "", err
	}
	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening seal key: %w", err)
	}
	defer buf.Destroy()

	plain, err := OpenValue(buf.Bytes(), env, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return string(plain), nil
}

func (s *SealedBackend) Get(key string) (string, error) {
	sealed, err := s.inner.Get(key)
	if err != nil {
		return "", err
	}
	return s.open(key, sealed)
}

func (s *SealedBackend) Put(key, value string) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Put(key, sealed)
}

func (s *SealedBackend) Delete(key string) error {
	return s.inner.Delete(key)
}

func (s *SealedBackend) Keys() ([]string, error) {
	return s.inner.Keys()
}

func (s *SealedBackend) Batch(fn func(tx BatchTx) error) error {
	return s.inner.Batch(func(tx BatchTx) error {
		return fn(&sealedBatchTx{backend: s, tx: tx})
	})
}

type sealedBatchTx struct {
	backend *SealedBackend
	tx      BatchTx
}

func (t *sealedBatchTx) Put(key, value string) error {
	sealed, err := t.backend.seal(key, value)
	if err != nil {
		return err
	}
	return t.tx.Put(key, sealed)
}

func (t *sealedBatchTx) Delete(key string) error {
	return t.tx.Delete(key)
}
