package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/stash/pkg/log"
	"github.com/cuemby/stash/pkg/metrics"
	"github.com/cuemby/stash/pkg/types"
)

// TenantLister is the read the readiness probe performs against the state store
type TenantLister interface {
	ListTenants() ([]*types.Tenant, error)
}

// Pinger is an optional dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves the operational endpoints of a running stash process:
// /health, /ready, /live and /metrics
type HealthServer struct {
	tenants TenantLister
	checks  map[string]Pinger
	version string
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a health server. tenants may be nil, in which case
// readiness reports the state store as not initialized.
func NewHealthServer(tenants TenantLister, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		tenants: tenants,
		checks:  make(map[string]Pinger),
		version: version,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/components", metrics.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// AddCheck registers a named dependency the readiness probe pings
func (hs *HealthServer) AddCheck(name string, p Pinger) {
	hs.checks[name] = p
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (hs *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	hs.server = &http.Server{
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger := log.WithComponent("api")
	go func() {
		if err := hs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Health server stopped")
		}
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Health server listening")
	return nil
}

// Shutdown gracefully stops a started server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.tenants != nil {
		if _, err := hs.tenants.ListTenants(); err != nil {
			checks["state"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "State store not accessible"
		} else {
			checks["state"] = "ok"
		}
	} else {
		checks["state"] = "not initialized"
		ready = false
		message = "State store not initialized"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, p := range hs.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = name + " not reachable"
			}
			continue
		}
		checks[name] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
