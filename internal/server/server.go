// Package server exposes the page cache over HTTP: a snapshot endpoint for
// the workbench page inspector, per-page event history, a websocket live
// event feed, and Prometheus metrics. The server is read-only; it never
// mutates cache state.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Schwaller/tradery/internal/cache"
	"github.com/Schwaller/tradery/internal/logger"
)

// SnapshotSource aggregates page projections across every page manager,
// derived pages included.
type SnapshotSource func() []cache.PageInfo

// Server is the observability HTTP server.
type Server struct {
	log       *logger.Logger
	snapshots SnapshotSource
	events    *cache.EventLog

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
}

// NewServer creates the server. Call Start to begin listening.
func NewServer(snapshots SnapshotSource, events *cache.EventLog, log *logger.Logger) *Server {
	s := &Server{
		log:       log,
		snapshots: snapshots,
		events:    events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/pages", s.handlePages).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/pages/{key}/events", s.handlePageEvents).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/events", s.handleEventFeed)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start begins listening on addr. It returns once the listener is bound; the
// serve loop runs in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server stopped", zap.Error(err))
		}
	}()

	s.log.Info("observability server listening", zap.String("addr", listener.Addr().String()))

	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handlePages serves the snapshot of every resident page.
func (s *Server) handlePages(w http.ResponseWriter, _ *http.Request) {
	infos := s.snapshots()
	if infos == nil {
		infos = []cache.PageInfo{}
	}

	s.writeJSON(w, infos)
}

// handlePageEvents serves the retained event history for one page key.
func (s *Server) handlePageEvents(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	events := s.events.ForKey(key)
	if events == nil {
		events = []cache.Event{}
	}

	s.writeJSON(w, events)
}

// handleEventFeed upgrades to a websocket and streams live events until the
// client disconnects. The feed is lossy under backpressure, same as the
// underlying log subscription.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	defer conn.Close()

	feed, cancel := s.events.Subscribe()
	defer cancel()

	// Reader loop detects client disconnect; we never expect inbound frames.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-feed:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}
