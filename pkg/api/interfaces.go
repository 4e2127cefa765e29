package api

import (
	"context"

	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/dispatch"
	"github.com/ssargent/quill/pkg/events"
)

// Dispatcher runs post calls
type Dispatcher interface {
	Call(ctx context.Context, call dispatch.Call, origin auth.Origin, title, content []byte) (dispatch.Receipt, error)
}

// Ledger is the read side of the post store
type Ledger interface {
	Get(id uint32) (codec.Post, error)
	NextID() (uint32, error)
	Count(ctx context.Context) (int, error)
	Version() codec.SchemaVersion
	MigrationPending() bool
}

// EventSource hands out live event subscriptions
type EventSource interface {
	Subscribe(buffer int) *events.Subscription
	Subscribers() int
	Dropped() uint64
}

// ServerStarter defines the interface for starting the API server
type ServerStarter interface {
	// StartServer serves until ctx is canceled
	StartServer(ctx context.Context, server *Server, config ServerConfig) error
}

// ServerFactory creates server instances
type ServerFactory interface {
	// CreateServerStarter creates a server starter
	CreateServerStarter() ServerStarter
}
