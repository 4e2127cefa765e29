package ledger

import (
	"errors"
	"math"
	"sort"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/storage"
)

// Tx is a write transaction over the ledger. Reads see the transaction's own
// pending writes.
type Tx struct {
	store  *Store
	writes map[string][]byte
	done   bool
}

func (tx *Tx) get(key []byte) ([]byte, error) {
	if v, ok := tx.writes[string(key)]; ok {
		return v, nil
	}
	return tx.store.backend.Get(key)
}

type txReader struct{ tx *Tx }

func (r txReader) Get(key []byte) ([]byte, error) { return r.tx.get(key) }

func (r txReader) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return errors.New("iterate is not supported inside a transaction")
}

var _ storage.Reader = txReader{}

func (tx *Tx) check() error {
	if tx.done {
		return ErrTxDone
	}
	return tx.store.checkVersion()
}

// AllocateID returns the current NextPost value and stages its increment.
// It fails with ErrStorageOverflow instead of wrapping past math.MaxUint32.
func (tx *Tx) AllocateID() (uint32, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	next, err := readCounter(txReader{tx})
	if err != nil {
		return 0, err
	}
	if next == math.MaxUint32 {
		return 0, ErrStorageOverflow
	}
	tx.writes[string(nextPostKey)] = encodeU32(next + 1)
	return next, nil
}

// Insert stages post under id. It fails with ErrConflict when the id already
// holds a record, committed or pending.
func (tx *Tx) Insert(id uint32, post codec.Post) error {
	if err := tx.check(); err != nil {
		return err
	}
	key := PostKey(id)
	_, err := tx.get(key)
	switch {
	case err == nil:
		return ErrConflict
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	encoded, err := codec.EncodePost(post)
	if err != nil {
		return err
	}
	tx.writes[string(key)] = encoded
	return nil
}

// Get returns the post with the given id as seen by this transaction.
func (tx *Tx) Get(id uint32) (codec.Post, error) {
	if err := tx.check(); err != nil {
		return codec.Post{}, err
	}
	return decodeStored(id, txReader{tx})
}

// Commit applies every pending write as one batch. The transaction is
// finished afterwards whether or not the commit succeeded.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.finish()

	if len(tx.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := tx.store.backend.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		batch.Set([]byte(k), tx.writes[k])
	}
	return batch.Commit()
}

// Discard drops every pending write. It is safe to call after Commit.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	tx.writes = nil
	tx.store.writeMu.Unlock()
}
