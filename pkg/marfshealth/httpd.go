package marfshealth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// Components returns a snapshot of every tracked component, sorted by
// name, for rendering on the health endpoint.
func (t *Tracker) Components() []ComponentHealth {
	t.mu.RLock()
	out := make([]ComponentHealth, 0, len(t.components))
	for _, h := range t.components {
		out = append(out, *h)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Server exposes a Tracker's state over HTTP, grounded on the same
// liveness/readiness split the resource manager's collaborators expect
// from a supervised process: `/health` for overall state plus every
// component, `/health/live` for a bare liveness check that never fails
// once the process is up, and `/health/ready` for a readiness check
// that fails once the worst-tracked component is unavailable.
type Server struct {
	tracker *Tracker
	server  *http.Server
}

// NewServer binds no socket until Start is called.
func NewServer(tracker *Tracker, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{tracker: tracker}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	s.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return s
}

// Start runs the server in the background until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.server.ListenAndServe() }()
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := s.tracker.Overall()
	w.Header().Set("Content-Type", "application/json")
	if overall == StateUnavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     overall.String(),
		"components": s.tracker.Components(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.tracker.Overall() == StateUnavailable {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
