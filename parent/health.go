package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mesmerverse/rats-tls/hostcall"
	"github.com/rs/zerolog/log"
)

// HealthServer provides HTTP health check endpoints for the parent
type HealthServer struct {
	addr   string
	server *http.Server
	stats  func() hostcall.Stats
}

// HealthStatus represents the current health status
type HealthStatus struct {
	Healthy          bool   `json:"healthy"`
	EnclaveConnected bool   `json:"enclave_connected"`
	Sessions         int64  `json:"sessions"`
	OpenDirs         int    `json:"open_dirs"`
	Requests         uint64 `json:"requests"`
	Rejected         uint64 `json:"rejected"`
	Uptime           string `json:"uptime"`
	Version          string `json:"version"`
}

var startTime = time.Now()

// NewHealthServer creates a health server reporting the gate's activity
func NewHealthServer(port int, stats func() hostcall.Stats) *HealthServer {
	return &HealthServer{
		addr:  fmt.Sprintf("localhost:%d", port),
		stats: stats,
	}
}

func (h *HealthServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/metrics", h.handleMetrics)
	return mux
}

// Start serves until Stop is called
func (h *HealthServer) Start() {
	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", h.addr).Msg("Starting health server")

	if err := h.server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health server error")
	}
}

// Stop stops the health server
func (h *HealthServer) Stop() {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.server.Shutdown(ctx)
	}
}

func (h *HealthServer) status() HealthStatus {
	st := h.stats()
	return HealthStatus{
		Healthy:          true,
		EnclaveConnected: st.Sessions > 0,
		Sessions:         st.Sessions,
		OpenDirs:         st.OpenDirs,
		Requests:         st.Requests,
		Rejected:         st.Rejected,
		Uptime:           time.Since(startTime).String(),
		Version:          Version,
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.status())
}

// handleReady reports ready once an enclave holds a gate session
func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.status().EnclaveConnected {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

// handleMetrics writes the Prometheus text format
func (h *HealthServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status := h.status()

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "# HELP rats_tls_gate_sessions Enclave sessions on the call gate\n")
	fmt.Fprintf(w, "# TYPE rats_tls_gate_sessions gauge\n")
	fmt.Fprintf(w, "rats_tls_gate_sessions %d\n", status.Sessions)
	fmt.Fprintf(w, "# HELP rats_tls_gate_open_dirs Directory streams held open for enclaves\n")
	fmt.Fprintf(w, "# TYPE rats_tls_gate_open_dirs gauge\n")
	fmt.Fprintf(w, "rats_tls_gate_open_dirs %d\n", status.OpenDirs)
	fmt.Fprintf(w, "# HELP rats_tls_gate_requests_total Gate requests received\n")
	fmt.Fprintf(w, "# TYPE rats_tls_gate_requests_total counter\n")
	fmt.Fprintf(w, "rats_tls_gate_requests_total %d\n", status.Requests)
	fmt.Fprintf(w, "# HELP rats_tls_gate_rejected_total Gate requests refused as malformed or not allowed\n")
	fmt.Fprintf(w, "# TYPE rats_tls_gate_rejected_total counter\n")
	fmt.Fprintf(w, "rats_tls_gate_rejected_total %d\n", status.Rejected)
	fmt.Fprintf(w, "# HELP rats_tls_parent_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE rats_tls_parent_uptime_seconds counter\n")
	fmt.Fprintf(w, "rats_tls_parent_uptime_seconds %.0f\n", time.Since(startTime).Seconds())
}
