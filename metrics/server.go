package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/diagnostics"
)

// Server provides an optional HTTP server for metrics and a read-only
// diagnostics lookup endpoint.
// Use this only if your application does not already expose metrics.
type Server struct {
	server  *http.Server
	errChan chan error
}

// NewServer creates a metrics server on the specified address. diag is
// queried by GET /diagnostics/{modId} for late-message diagnostics (spec
// §3); it may be nil, in which case that endpoint always answers 404.
// Example address: ":9090" or "localhost:9090"
func NewServer(addr string, diag diagnostics.Store) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/diagnostics/", diagnosticsHandler(diag))

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		errChan: make(chan error, 1),
	}
}

// diagnosticsHandler serves GET /diagnostics/{modId}, returning the
// diagnostics.Record persisted for a completed or failed modification, so
// an operator investigating a late acknowledge can look up what happened
// to the modification it referenced.
func diagnosticsHandler(diag diagnostics.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if diag == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		raw := strings.TrimPrefix(r.URL.Path, "/diagnostics/")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid modification id", http.StatusBadRequest)
			return
		}

		rec, err := diag.Get(r.Context(), coordinator.ModificationID(id))
		if err != nil {
			if err == diagnostics.ErrNotFound {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// Start starts the metrics server in a goroutine.
// Returns immediately. Check Err() to detect startup failures.
// Use Shutdown to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errChan <- err
		}
	}()
}

// Err returns any error that occurred during server startup or operation.
// This is non-blocking and returns nil if no error has occurred.
func (s *Server) Err() error {
	select {
	case err := <-s.errChan:
		return err
	default:
		return nil
	}
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
