// Package events carries the notification emitted after every stored post.
//
// A Sink receives RecordStored events once the write that produced them has
// committed. Bus fans events out to in-process subscribers, Journal appends
// them to a durable CRC-framed file, and Fanout combines several sinks.
package events

import (
	"context"
	"errors"

	"github.com/ssargent/quill/pkg/codec"
)

// RecordStored announces that a post was committed under PostID.
type RecordStored struct {
	PostID uint32         `json:"post_id"`
	Author codec.Identity `json:"author"`
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, ev RecordStored) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev RecordStored) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev RecordStored) error {
	return f(ctx, ev)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, RecordStored) error { return nil })

// Fanout delivers every event to each sink in order. All sinks are tried;
// their errors are joined.
func Fanout(sinks ...Sink) Sink {
	return fanout(sinks)
}

type fanout []Sink

func (f fanout) Emit(ctx context.Context, ev RecordStored) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
