package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/serial"
	"github.com/cuemby/fbuildd/pkg/status"
	"github.com/cuemby/fbuildd/pkg/types"
)

// HTTPServer is the local HTTP binding of the same request semantics
// the file-drop transport exposes, plus status/metrics/health surfaces
// and the device-leasing endpoints.
type HTTPServer struct {
	Addr    string
	Status  *status.Manager
	Leases  *serial.LeaseManager
	Handler Handler

	srv *http.Server
}

// NewHTTPServer builds the ServeMux and binds it to addr; it does not
// start listening until Run is called.
func NewHTTPServer(addr string, statusMgr *status.Manager, leases *serial.LeaseManager, handler Handler) *HTTPServer {
	h := &HTTPServer{Addr: addr, Status: statusMgr, Leases: leases, Handler: handler}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/daemon/info", h.handleInfo)
	mux.HandleFunc("/api/build", h.requestHandler(types.RequestBuild))
	mux.HandleFunc("/api/deploy", h.requestHandler(types.RequestDeploy))
	mux.HandleFunc("/api/monitor", h.requestHandler(types.RequestMonitor))
	mux.HandleFunc("/api/install-deps", h.requestHandler(types.RequestInstallDependencies))
	mux.HandleFunc("/api/devices/lease", h.handleLease)

	h.srv = &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second}
	return h
}

// Run starts serving until ctx is cancelled.
func (h *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := status.Read(h.Status.Path())
	if snap.State == types.DaemonFailed {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap := status.Read(h.Status.Path())
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPServer) requestHandler(kind types.RequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		req.Kind = kind

		result, err := h.Handler(r.Context(), req)
		if err != nil {
			log.WithComponent("transport.http").Error().Err(err).Str("kind", string(kind)).Msg("request failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *HTTPServer) handleLease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port     string        `json:"port"`
		ClientID string        `json:"client_id"`
		TTL      time.Duration `json:"ttl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	leaseID, err := h.Leases.Lease(body.Port, body.ClientID, body.TTL)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lease_id": leaseID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
