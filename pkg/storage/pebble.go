package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble is the default durable backend.
type Pebble struct {
	db   *pebble.DB
	sync bool
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string, sync bool) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &Pebble{db: db, sync: sync}, nil
}

func (s *Pebble) writeOptions() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Get returns a copy of the value stored at key.
func (s *Pebble) Get(key []byte) ([]byte, error) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// pebble owns data until closer.Close
	return copyBytes(data), nil
}

// Iterate visits keys with prefix in ascending order.
func (s *Pebble) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(copyBytes(iter.Key()), copyBytes(iter.Value())); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

// NewBatch starts a pebble batch.
func (s *Pebble) NewBatch() Batch {
	return &pebbleBatch{s: s, b: s.db.NewBatch()}
}

// Close flushes and closes the database.
func (s *Pebble) Close() error {
	return s.db.Close()
}

type pebbleBatch struct {
	s      *Pebble
	b      *pebble.Batch
	n      int
	err    error
	closed bool
}

func (b *pebbleBatch) Set(key, value []byte) {
	if len(key) == 0 {
		b.err = ErrEmptyKey
		return
	}
	if err := b.b.Set(key, value, nil); err != nil && b.err == nil {
		b.err = err
	}
	b.n++
}

func (b *pebbleBatch) Delete(key []byte) {
	if len(key) == 0 {
		b.err = ErrEmptyKey
		return
	}
	if err := b.b.Delete(key, nil); err != nil && b.err == nil {
		b.err = err
	}
	b.n++
}

func (b *pebbleBatch) Len() int {
	return b.n
}

func (b *pebbleBatch) Commit() error {
	if b.closed {
		return ErrClosed
	}
	defer b.Close()
	if b.err != nil {
		return b.err
	}
	return b.b.Commit(b.s.writeOptions())
}

// Close returns the batch to pebble's pool.
func (b *pebbleBatch) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.b.Close()
}
