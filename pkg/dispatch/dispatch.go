// Package dispatch implements the two externally callable operations of the
// ledger, post and post_encrypted.
//
// Each call authenticates its origin, allocates the next post id, stores a
// current-layout post under it and emits RecordStored. A failure at any step
// leaves storage exactly as it was, including the id counter.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/events"
	"github.com/ssargent/quill/pkg/ledger"
)

// Call names a dispatchable operation.
type Call string

const (
	CallPost          Call = "post"
	CallPostEncrypted Call = "post_encrypted"
)

// Calls lists every dispatchable operation.
var Calls = []Call{CallPost, CallPostEncrypted}

// Weight is the declared execution cost of a call.
type Weight uint64

// DeclaredWeight returns the cost declared for call. Both calls declare zero
// regardless of input size.
// TODO: charge by title and content length once a cost model is agreed.
func DeclaredWeight(call Call) Weight {
	return 0
}

// Receipt describes a successful call.
type Receipt struct {
	ID     uint32         `json:"id"`
	Author codec.Identity `json:"author"`
	Weight Weight         `json:"weight"`
}

// Observer is told about every call once it finishes.
type Observer interface {
	ObserveCall(call Call, err error, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(call Call, err error, elapsed time.Duration)

// ObserveCall calls f.
func (f ObserverFunc) ObserveCall(call Call, err error, elapsed time.Duration) {
	f(call, err, elapsed)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observers = append(d.observers, o)
	}
}

// Dispatcher runs calls against a ledger one at a time.
type Dispatcher struct {
	store     *ledger.Store
	auth      auth.Authenticator
	sink      events.Sink
	logger    *slog.Logger
	observers []Observer

	mu sync.Mutex
}

// New creates a dispatcher. A nil authenticator rejects every call and a nil
// sink discards events.
func New(store *ledger.Store, authenticator auth.Authenticator, sink events.Sink, opts ...Option) *Dispatcher {
	if authenticator == nil {
		authenticator = auth.Deny
	}
	if sink == nil {
		sink = events.Discard
	}
	d := &Dispatcher{
		store:  store,
		auth:   authenticator,
		sink:   sink,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Post stores a plaintext post authored by origin's signer.
func (d *Dispatcher) Post(ctx context.Context, origin auth.Origin, title, content []byte) (Receipt, error) {
	return d.Call(ctx, CallPost, origin, title, content)
}

// PostEncrypted stores a post whose content is opaque ciphertext.
func (d *Dispatcher) PostEncrypted(ctx context.Context, origin auth.Origin, title, content []byte) (Receipt, error) {
	return d.Call(ctx, CallPostEncrypted, origin, title, content)
}

// Call dispatches by name. The content kind follows from the call.
func (d *Dispatcher) Call(ctx context.Context, call Call, origin auth.Origin, title, content []byte) (Receipt, error) {
	start := time.Now()
	receipt, err := d.call(ctx, call, origin, title, content)
	elapsed := time.Since(start)

	for _, o := range d.observers {
		o.ObserveCall(call, err, elapsed)
	}
	if err != nil {
		d.logger.Warn("call failed", "call", string(call), "error", err, "elapsed", elapsed)
		return Receipt{}, err
	}
	d.logger.Debug("call succeeded",
		"call", string(call),
		"post_id", receipt.ID,
		"author", receipt.Author.String(),
		"elapsed", elapsed)
	return receipt, nil
}

func (d *Dispatcher) call(ctx context.Context, call Call, origin auth.Origin, title, content []byte) (Receipt, error) {
	var body codec.Content
	switch call {
	case CallPost:
		body = codec.Plain(clone(content))
	case CallPostEncrypted:
		body = codec.Encrypted(clone(content))
	default:
		return Receipt{}, &Error{Kind: KindStorage, Err: errors.New("unknown call " + string(call))}
	}

	author, err := d.auth.Authenticate(ctx, origin)
	if err != nil {
		return Receipt{}, classify(err)
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, classify(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx := d.store.Begin()
	defer tx.Discard()

	id, err := tx.AllocateID()
	if err != nil {
		return Receipt{}, classify(err)
	}
	post := codec.Post{Title: clone(title), Content: body, Author: author}
	if err := tx.Insert(id, post); err != nil {
		return Receipt{}, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, classify(err)
	}

	ev := events.RecordStored{PostID: id, Author: author}
	if err := d.sink.Emit(ctx, ev); err != nil {
		d.logger.Error("event delivery failed", "post_id", id, "error", err)
	}

	return Receipt{ID: id, Author: author, Weight: DeclaredWeight(call)}, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}
