/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/meshd/internal/loop"
	"github.com/mikelane/meshd/internal/mesh"
)

// SchemaSource is the mesh-manager surface the gateway reads from
type SchemaSource interface {
	Schema() (string, bool)
	ConfigYAML() (string, bool)
	GetStats() mesh.Stats
	GetHealthStatus() mesh.HealthStatus
}

// Refresher triggers and inspects the discovery loop
type Refresher interface {
	ForceDiscovery(ctx context.Context) error
	GetStatus() loop.Status
}

// Options configures the gateway server
type Options struct {
	Addr             string
	EnablePlayground bool
	CORSOrigins      []string

	// Gatherer backs the /metrics endpoint. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the assembled federation artifacts plus health and metrics.
// It does not execute GraphQL queries itself; the mesh runtime consuming the
// published configuration owns that.
type Server struct {
	opts    Options
	source  SchemaSource
	refresh Refresher
	server  *http.Server
}

// NewServer creates a gateway server reading from the given schema source
func NewServer(opts Options, source SchemaSource, refresh Refresher) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		opts:    opts,
		source:  source,
		refresh: refresh,
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.opts.CORSOrigins))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/graphql/schema", s.handleSchema)
	r.Get("/graphql/config", s.handleConfig)
	r.Get("/status", s.handleStatus)
	r.Post("/discovery/refresh", s.handleRefresh)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	if s.opts.EnablePlayground {
		r.Get("/playground", s.handlePlayground)
	}

	return r
}

// Start runs the server until the context is cancelled or the listener fails,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger := log.FromContext(ctx)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Gateway server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.FromContext(ctx).Info("Gateway server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck
}

// handleReadyz reports ready once a mesh configuration has been published at
// least once; before that the gateway has nothing to serve.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.source.GetHealthStatus().ConfigExists {
		http.Error(w, "no mesh configuration published yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	schema, ok := s.source.Schema()
	if !ok {
		http.Error(w, "no schema assembled yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/graphql")
	w.Write([]byte(schema)) //nolint:errcheck
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, ok := s.source.ConfigYAML()
	if !ok {
		http.Error(w, "no mesh configuration published yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write([]byte(cfg)) //nolint:errcheck
}

// statusResponse aggregates loop and mesh state for operators
type statusResponse struct {
	Loop struct {
		Running           bool   `json:"running"`
		Ticking           bool   `json:"ticking"`
		RetryCount        int    `json:"retryCount"`
		LastSuccessfulRun string `json:"lastSuccessfulRun,omitempty"`
		LastError         string `json:"lastError,omitempty"`
		NextScheduledRun  string `json:"nextScheduledRun,omitempty"`
	} `json:"loop"`
	Mesh struct {
		ServiceCount int      `json:"serviceCount"`
		SourceCount  int      `json:"sourceCount"`
		Services     []string `json:"services"`
		LastUpdated  string   `json:"lastUpdated,omitempty"`
	} `json:"mesh"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp statusResponse

	ls := s.refresh.GetStatus()
	resp.Loop.Running = ls.Running
	resp.Loop.Ticking = ls.Ticking
	resp.Loop.RetryCount = ls.RetryCount
	resp.Loop.LastError = ls.LastError
	if !ls.LastSuccessfulRun.IsZero() {
		resp.Loop.LastSuccessfulRun = ls.LastSuccessfulRun.Format(time.RFC3339)
	}
	if !ls.NextScheduledRun.IsZero() {
		resp.Loop.NextScheduledRun = ls.NextScheduledRun.Format(time.RFC3339)
	}

	ms := s.source.GetStats()
	resp.Mesh.ServiceCount = ms.ServiceCount
	resp.Mesh.SourceCount = ms.SourceCount
	resp.Mesh.Services = ms.Services
	if !ms.LastUpdated.IsZero() {
		resp.Mesh.LastUpdated = ms.LastUpdated.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// handleRefresh runs a forced discovery outside the schedule
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	if err := s.refresh.ForceDiscovery(r.Context()); err != nil {
		logger.Error(err, "Forced discovery failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"refreshed"}`)) //nolint:errcheck
}

func (s *Server) handlePlayground(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(playgroundHTML)) //nolint:errcheck
}

// corsMiddleware applies the configured allowed origins. "*" allows any.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
				// Not a cross-origin request.
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const playgroundHTML = `<!DOCTYPE html>
<html>
<head><title>meshd playground</title></head>
<body>
<h1>meshd</h1>
<p>The federated schema currently assembled by the discovery loop:</p>
<pre id="schema">loading...</pre>
<script>
fetch('/graphql/schema')
  .then(function(r) { return r.text(); })
  .then(function(t) { document.getElementById('schema').textContent = t; });
</script>
</body>
</html>
`
