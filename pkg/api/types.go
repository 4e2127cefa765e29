package api

import (
	"log/slog"
	"time"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/dispatch"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// Content encodings accepted in PostRequest
const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)

// PostRequest is the body of both post endpoints. Title and content are
// interpreted per Encoding; utf8 is the default.
type PostRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// PostView is the JSON representation of a stored post. Byte fields are
// base64 encoded.
type PostView struct {
	ID      uint32         `json:"id"`
	Title   []byte         `json:"title"`
	Kind    string         `json:"kind"`
	Content []byte         `json:"content"`
	Author  codec.Identity `json:"author"`
}

// StatsResponse summarizes the ledger
type StatsResponse struct {
	Posts            int    `json:"posts"`
	NextID           uint32 `json:"next_id"`
	StorageVersion   string `json:"storage_version"`
	MigrationPending bool   `json:"migration_pending"`
	Subscribers      int    `json:"subscribers"`
	EventsDropped    uint64 `json:"events_dropped"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind            string
	Port            int
	CORSOrigins     []string
	Logger          *slog.Logger
	StatsInterval   time.Duration // 0 disables the background stats updater
	ShutdownTimeout time.Duration
}

func newPostView(id uint32, post codec.Post) PostView {
	return PostView{
		ID:      id,
		Title:   post.Title,
		Kind:    post.Content.Kind().String(),
		Content: post.Content.Bytes(),
		Author:  post.Author,
	}
}

// receiptView is returned by the post endpoints.
type receiptView struct {
	ID     uint32          `json:"id"`
	Author codec.Identity  `json:"author"`
	Weight dispatch.Weight `json:"weight"`
}
