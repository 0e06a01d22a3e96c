// Package statefeed exposes the application's live state over HTTP for UI
// frontends: a JSON snapshot endpoint and a websocket push channel.
package statefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rttgcs/internal/bus"
	"rttgcs/internal/lifecycle"
	"rttgcs/internal/linkquality"
)

// Snapshot is the wire shape served on /api/state and pushed on /api/live.
type Snapshot struct {
	Phase         string               `json:"phase"`
	StatusText    string               `json:"status_text"`
	StatusKind    string               `json:"status_kind"`
	StatusVisible bool                 `json:"status_visible"`
	Connected     bool                 `json:"connected"`
	Quality       linkquality.Snapshot `json:"quality"`
}

// Server caches the latest lifecycle state and link quality from the bus and
// fans them out to HTTP clients.
type Server struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	srv      *http.Server
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	current     Snapshot
	subscribers map[chan Snapshot]struct{}
}

func NewServer(logger *slog.Logger, messageBus bus.MessageBus, addr string) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "statefeed")
	}

	s := &Server{
		logger: logger,
		bus:    messageBus,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
		},
		current: Snapshot{
			Phase: lifecycle.PhaseRadioConfigInput.String(),
		},
		subscribers: make(map[chan Snapshot]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/live", s.handleLive)
	s.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return s
}

// Handler exposes the HTTP routes for serving through an external listener.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run consumes bus updates and serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	sub := s.bus.Subscribe(lifecycle.TopicState, linkquality.TopicSnapshot)

	go func() {
		defer s.bus.Unsubscribe(sub, lifecycle.TopicState, linkquality.TopicSnapshot)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				switch v := msg.(type) {
				case lifecycle.State:
					s.applyState(v)
				case linkquality.Snapshot:
					s.applyQuality(v)
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("state feed shutdown", "error", err)
		}
	}()

	s.logger.Info("state feed listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("state feed server error", "error", err)
	}
}

func (s *Server) applyState(st lifecycle.State) {
	s.mu.Lock()
	s.current.Phase = st.Phase.String()
	s.current.StatusText = st.Status.Text
	s.current.StatusKind = string(st.Status.Kind)
	s.current.StatusVisible = st.Status.Visible
	s.current.Connected = st.Connected
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Server) applyQuality(q linkquality.Snapshot) {
	s.mu.Lock()
	s.current.Quality = q
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Server) broadcastLocked() {
	for ch := range s.subscribers {
		select {
		case ch <- s.current:
		default:
		}
	}
}

func (s *Server) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

func (s *Server) subscribe() (chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}

	return ch, cancel
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)

		return
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := s.subscribe()
	defer cancel()

	// Seed the client with the current snapshot so it renders immediately.
	if err := conn.WriteJSON(s.snapshot()); err != nil {
		return
	}

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
