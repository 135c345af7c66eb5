// Package storage provides the durable key/value layer that backs a browser
// profile's local storage.
package storage

import "errors"

var (
	// ErrNotFound is returned when a key has no stored value.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("backend closed")
)

// BatchTx provides Put and Delete within an atomic transaction.
// Delete of a missing key is not an error inside a batch.
type BatchTx interface {
	Put(key, value string) error
	Delete(key string) error
}

// Backend defines the interface for durable string storage shared by every
// tab of a profile. Writes are total overwrites; the last writer wins.
type Backend interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
	Keys() ([]string, error)
	Batch(fn func(tx BatchTx) error) error
}
