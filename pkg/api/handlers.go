package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/swaggo/swag"

	"github.com/ssargent/quill/pkg/codec"
	"github.com/ssargent/quill/pkg/dispatch"
	"github.com/ssargent/quill/pkg/ledger"
	"github.com/ssargent/quill/pkg/render"
)

const (
	maxRequestBody    = 8 << 20
	subscriberBuffer  = 64
	wsWriteTimeout    = 5 * time.Second
	wsPingInterval    = 30 * time.Second
	wsReadIdleTimeout = 2 * wsPingInterval
)

// Server holds the API server state
type Server struct {
	dispatcher Dispatcher
	ledger     Ledger
	events     EventSource
	metrics    *Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a new API server. events may be nil, which disables the
// event stream endpoint.
func NewServer(dispatcher Dispatcher, ledger Ledger, events EventSource, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		dispatcher: dispatcher,
		ledger:     ledger,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Metrics returns the server's metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ledger.MigrationPending() {
		s.metrics.RecordHealthCheck(false)
		sendErrorKind(w, "storage migration pending", dispatch.KindMigrationPending.String(), http.StatusServiceUnavailable)
		return
	}
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{
		"status":          "healthy",
		"storage_version": s.ledger.Version().String(),
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.CallPost)
}

func (s *Server) handlePostEncrypted(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dispatch.CallPostEncrypted)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, call dispatch.Call) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	title, content, err := decodePostRequest(body)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := s.dispatcher.Call(r.Context(), call, bearerOrigin(r), title, content)
	if err != nil {
		status, kind := dispatchStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("dispatch failed", "call", string(call), "error", err)
		}
		sendErrorKind(w, err.Error(), kind, status)
		return
	}

	sendSuccessStatus(w, http.StatusCreated, receiptView{
		ID:     receipt.ID,
		Author: receipt.Author,
		Weight: receipt.Weight,
	})
}

// dispatchStatus maps a dispatch error to an HTTP status and error kind.
func dispatchStatus(err error) (int, string) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, dispatch.KindStorage.String()
	}
	switch de.Kind {
	case dispatch.KindBadOrigin:
		return http.StatusUnauthorized, de.Kind.String()
	case dispatch.KindConflict:
		return http.StatusConflict, de.Kind.String()
	case dispatch.KindStorageOverflow:
		return http.StatusInsufficientStorage, de.Kind.String()
	case dispatch.KindMigrationPending:
		return http.StatusServiceUnavailable, de.Kind.String()
	case dispatch.KindNoneValue:
		return http.StatusNotFound, de.Kind.String()
	default:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable, de.Kind.String()
		}
		return http.StatusInternalServerError, de.Kind.String()
	}
}

func parseID(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

func (s *Server) loadPost(w http.ResponseWriter, r *http.Request) (uint32, codec.Post, bool) {
	id, err := parseID(r)
	if err != nil {
		sendError(w, "Post id must be an unsigned 32-bit integer", http.StatusBadRequest)
		return 0, codec.Post{}, false
	}

	post, err := s.ledger.Get(id)
	switch {
	case err == nil:
		return id, post, true
	case errors.Is(err, ledger.ErrNotFound):
		sendError(w, "Post not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrMigrationPending):
		sendErrorKind(w, err.Error(), dispatch.KindMigrationPending.String(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("failed to read post", "id", id, "error", err)
		sendError(w, "Failed to read post", http.StatusInternalServerError)
	}
	return 0, codec.Post{}, false
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	sendSuccess(w, newPostView(id, post))
}

func (s *Server) handleGetPostHTML(w http.ResponseWriter, r *http.Request) {
	_, post, ok := s.loadPost(w, r)
	if !ok {
		return
	}

	body, err := render.HTML(post.Content)
	if errors.Is(err, render.ErrEncrypted) {
		sendError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		sendError(w, "Failed to render post", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "<article><h1>"+render.Title(post.Title)+"</h1>\n")
	_, _ = w.Write(body)
	_, _ = io.WriteString(w, "</article>\n")
}

func (s *Server) stats(ctx context.Context) (StatsResponse, error) {
	count, err := s.ledger.Count(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	next, err := s.ledger.NextID()
	if err != nil {
		return StatsResponse{}, err
	}
	resp := StatsResponse{
		Posts:            count,
		NextID:           next,
		StorageVersion:   s.ledger.Version().String(),
		MigrationPending: s.ledger.MigrationPending(),
	}
	if s.events != nil {
		resp.Subscribers = s.events.Subscribers()
		resp.EventsDropped = s.events.Dropped()
	}
	return resp, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats(r.Context())
	if err != nil {
		s.logger.Error("failed to collect stats", "error", err)
		sendError(w, "Failed to collect stats", http.StatusInternalServerError)
		return
	}
	s.updateMetrics(stats)
	sendSuccess(w, stats)
}

func (s *Server) updateMetrics(stats StatsResponse) {
	s.metrics.UpdateLedgerStats(stats.Posts, stats.NextID, stats.MigrationPending)
	s.metrics.UpdateEventStats(stats.Subscribers, stats.EventsDropped)
}

// startMetricsUpdater periodically refreshes ledger gauges until ctx ends
func (s *Server) startMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.stats(ctx)
			if err != nil {
				s.logger.Warn("metrics update failed", "error", err)
				continue
			}
			s.updateMetrics(stats)
		}
	}
}

// handleEvents streams RecordStored events over a websocket as JSON text
// messages.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		sendError(w, "Event stream disabled", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe(subscriberBuffer)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: only control frames are expected; any error ends the
	// stream.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadIdleTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			return
		case ev, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		s.logger.Error("failed to generate swagger doc", "error", err)
		sendError(w, "Failed to generate Swagger documentation", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, doc)
}
