package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// Memory is an in-process backend. Nothing survives Close.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get returns a copy of the value at key.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

// Iterate visits keys with prefix in ascending order. The callback runs on a
// snapshot so it may read from (but not commit to) the backend.
func (m *Memory) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = copyBytes(m.data[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// NewBatch starts a batch.
func (m *Memory) NewBatch() Batch {
	return &memoryBatch{m: m}
}

// Len returns the number of keys stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close marks the backend closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryBatch struct {
	m      *Memory
	ops    []op
	closed bool
}

func (b *memoryBatch) Set(key, value []byte) {
	b.ops = append(b.ops, op{key: copyBytes(key), value: copyBytes(value)})
}

func (b *memoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: copyBytes(key), delete: true})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Commit() error {
	if b.closed {
		return ErrClosed
	}
	for _, o := range b.ops {
		if len(o.key) == 0 {
			return ErrEmptyKey
		}
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	if b.m.closed {
		return ErrClosed
	}
	for _, o := range b.ops {
		if o.delete {
			delete(b.m.data, string(o.key))
			continue
		}
		if o.value == nil {
			o.value = []byte{}
		}
		b.m.data[string(o.key)] = o.value
	}
	b.ops = nil
	return nil
}

func (b *memoryBatch) Close() error {
	b.closed = true
	b.ops = nil
	return nil
}
