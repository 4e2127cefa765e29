package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/quill/pkg/codec"
)

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	assert.Equal(t, 2, bus.Subscribers())

	ev := RecordStored{PostID: 3, Author: codec.Identity{1}}
	require.NoError(t, bus.Emit(context.Background(), ev))

	assert.Equal(t, ev, <-a.C())
	assert.Equal(t, ev, <-b.C())
}

func TestBus_DropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe(1)

	for i := uint32(0); i < 3; i++ {
		require.NoError(t, bus.Emit(context.Background(), RecordStored{PostID: i}))
	}

	assert.Equal(t, uint32(0), (<-slow.C()).PostID)
	assert.Equal(t, uint64(2), slow.Dropped())
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBus_CloseSubscription(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers())
	require.NoError(t, bus.Emit(context.Background(), RecordStored{}))
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := bus.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestFanout(t *testing.T) {
	var got []RecordStored
	record := SinkFunc(func(ctx context.Context, ev RecordStored) error {
		got = append(got, ev)
		return nil
	})
	failing := SinkFunc(func(ctx context.Context, ev RecordStored) error {
		return errors.New("sink down")
	})

	sink := Fanout(record, nil, failing, record)
	err := sink.Emit(context.Background(), RecordStored{PostID: 9})
	assert.EqualError(t, err, "sink down")
	assert.Len(t, got, 2)

	require.NoError(t, Discard.Emit(context.Background(), RecordStored{}))
}
