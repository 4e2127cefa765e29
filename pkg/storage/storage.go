// Package storage defines the key-value contract the ledger persists through
// and the backends that implement it.
//
// A Backend offers point reads, ordered prefix iteration and atomic batches.
// Keyed slots (get/insert/remove by key) and single-value slots (get/put) are
// both expressed on top of these primitives by the ledger.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Reader is the read side of a backend.
type Reader interface {
	// Get returns a copy of the value stored at key or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Iterate calls fn for every key with the given prefix in ascending key
	// order. Returning ErrStop from fn ends the iteration without error.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// Backend is a durable (or in-memory) key-value store.
type Backend interface {
	Reader

	// NewBatch starts a set of writes that land together or not at all.
	NewBatch() Batch

	// Close releases the backend's resources.
	Close() error
}

// Batch collects writes and applies them atomically on Commit. A batch is
// spent after Commit; Close drops an uncommitted batch and is a no-op
// afterwards.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Len() int
	Commit() error
	Close() error
}

// Errors
var (
	ErrNotFound = &Error{"key not found"}
	ErrClosed   = &Error{"storage is closed"}
	ErrEmptyKey = &Error{"empty key"}

	// ErrStop can be returned by an Iterate callback to stop early.
	ErrStop = errors.New("stop iteration")
)

// Error represents a storage error
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindPebble = "pebble"
	KindSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Kind string // memory, pebble or sqlite
	Dir  string // data directory for durable backends
	Sync bool   // fsync every committed batch
}

// Open creates the backend described by opts.
func Open(opts Options) (Backend, error) {
	switch strings.ToLower(opts.Kind) {
	case KindMemory:
		return NewMemory(), nil
	case KindPebble, "":
		return OpenPebble(filepath.Join(opts.Dir, "pebble"), opts.Sync)
	case KindSQLite:
		return OpenSQLite(filepath.Join(opts.Dir, "quill.db"), opts.Sync)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}
