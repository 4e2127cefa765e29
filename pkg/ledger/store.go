package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/storage"
)

// Options configures a Store.
type Options struct {
	Logger *slog.Logger
}

// Store is the exclusive owner of the Posts map, the NextPost counter and the
// StorageVersion marker.
type Store struct {
	backend storage.Backend
	logger  *slog.Logger

	// writeMu is held by the open Tx or a running migration
	writeMu sync.Mutex

	mu      sync.RWMutex
	version codec.SchemaVersion
}

// Open attaches a Store to backend and resolves the schema version of the data
// already in it. An empty backend is stamped with the current version; a
// backend holding posts but no version marker predates versioning and is
// treated as v1.
func Open(ctx context.Context, backend storage.Backend, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{backend: backend, logger: logger}

	raw, err := backend.Get(storageVersionKey)
	switch {
	case err == nil:
		v, err := decodeU16(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to read storage version: %w", err)
		}
		s.version = codec.SchemaVersion(v)
	case errors.Is(err, storage.ErrNotFound):
		hasPosts, err := s.hasPosts(ctx)
		if err != nil {
			return nil, err
		}
		s.version = codec.CurrentSchema
		if hasPosts {
			s.version = codec.SchemaV1
		}
		batch := backend.NewBatch()
		defer batch.Close()
		batch.Set(storageVersionKey, encodeU16(uint16(s.version)))
		if err := batch.Commit(); err != nil {
			return nil, fmt.Errorf("failed to stamp storage version: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read storage version: %w", err)
	}

	if s.version > codec.CurrentSchema {
		return nil, fmt.Errorf("%w: found %s, newest known %s", ErrFutureSchema, s.version, codec.CurrentSchema)
	}

	logger.Info("ledger opened",
		"storage_version", s.version.String(),
		"migration_pending", s.version != codec.CurrentSchema)
	return s, nil
}

func (s *Store) hasPosts(ctx context.Context) (bool, error) {
	found := false
	err := s.backend.Iterate(postsPrefix, func(key, value []byte) error {
		found = true
		return storage.ErrStop
	})
	if err != nil {
		return false, fmt.Errorf("failed to scan posts: %w", err)
	}
	return found, ctx.Err()
}

// Version returns the schema version of the stored posts.
func (s *Store) Version() codec.SchemaVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// MigrationPending reports whether Migrate must run before the store is usable.
func (s *Store) MigrationPending() bool {
	return s.Version() != codec.CurrentSchema
}

func (s *Store) checkVersion() error {
	if s.MigrationPending() {
		return ErrMigrationPending
	}
	return nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() storage.Backend {
	return s.backend
}

// Get returns the committed post with the given id.
func (s *Store) Get(id uint32) (codec.Post, error) {
	if err := s.checkVersion(); err != nil {
		return codec.Post{}, err
	}
	return decodeStored(id, s.backend)
}

// NextID returns the id the next allocation will hand out.
func (s *Store) NextID() (uint32, error) {
	return readCounter(s.backend)
}

// Count returns the number of stored posts.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.backend.Iterate(postsPrefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Scan calls fn for every stored post in key order. Returning storage.ErrStop
// from fn ends the scan early.
func (s *Store) Scan(ctx context.Context, fn func(id uint32, post codec.Post) error) error {
	if err := s.checkVersion(); err != nil {
		return err
	}
	return s.backend.Iterate(postsPrefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := IDFromKey(key)
		if !ok {
			return fmt.Errorf("%w: unexpected key %x", ErrCorruptSlot, key)
		}
		post, err := codec.DecodePost(value)
		if err != nil {
			return fmt.Errorf("post %d: %w", id, err)
		}
		return fn(id, post)
	})
}

// Entry is a post together with its id.
type Entry struct {
	ID   uint32
	Post codec.Post
}

// List returns up to limit posts with ids >= from, in id order. Ids are dense,
// so this walks the counter range instead of scanning the keyspace.
func (s *Store) List(ctx context.Context, from uint32, limit int) ([]Entry, error) {
	if err := s.checkVersion(); err != nil {
		return nil, err
	}
	next, err := s.NextID()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for id := from; id < next && len(out) < limit; id++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := decodeStored(id, s.backend)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("post %d: %w", id, err)
		}
		out = append(out, Entry{ID: id, Post: p})
	}
	return out, nil
}

// Begin opens a write transaction. It blocks while another transaction or a
// migration is in progress. Callers must Commit or Discard.
func (s *Store) Begin() *Tx {
	s.writeMu.Lock()
	return &Tx{store: s, writes: make(map[string][]byte)}
}

func readCounter(r storage.Reader) (uint32, error) {
	raw, err := r.Get(nextPostKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeU32(raw)
}

func decodeStored(id uint32, r storage.Reader) (codec.Post, error) {
	raw, err := r.Get(PostKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return codec.Post{}, ErrNotFound
	}
	if err != nil {
		return codec.Post{}, err
	}
	return codec.DecodePost(raw)
}
