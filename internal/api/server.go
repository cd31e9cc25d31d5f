// Package api exposes the decision engine over REST/JSON plus a WebSocket
// event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ztx/accessd/internal/audit"
	"github.com/ztx/accessd/internal/core"
	"github.com/ztx/accessd/internal/decision"
	"github.com/ztx/accessd/internal/directory"
	"github.com/ztx/accessd/internal/events"
	"github.com/ztx/accessd/internal/notify"
	"github.com/ztx/accessd/internal/policy"
	"github.com/ztx/accessd/internal/segment"
	"github.com/ztx/accessd/internal/session"
)

// Server wires the engine and its stores into HTTP routes.
type Server struct {
	engine    *decision.Engine
	sessions  *session.Monitor
	guard     *segment.Guard
	policies  *policy.Store
	directory *directory.Store
	audit     audit.Sink
	webhooks  *notify.Registry
	emitter   events.EventEmitter
	streamer  *EventStreamer

	httpSrv *http.Server
}

// NewServer creates the API server. The streamer may be nil when the event
// stream is disabled.
func NewServer(
	engine *decision.Engine,
	sessions *session.Monitor,
	guard *segment.Guard,
	policies *policy.Store,
	dir *directory.Store,
	auditSink audit.Sink,
	webhooks *notify.Registry,
	bus *events.EventBus,
) *Server {
	s := &Server{
		engine:    engine,
		sessions:  sessions,
		guard:     guard,
		policies:  policies,
		directory: dir,
		audit:     auditSink,
		webhooks:  webhooks,
	}
	if bus != nil {
		s.emitter = bus
		s.streamer = NewEventStreamer(bus)
	}
	return s
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	api := r.PathPrefix("/api/v1").Subrouter()

	// Decisions
	api.HandleFunc("/access/evaluate", s.handleEvaluate).Methods("POST")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/override", s.handleOverride).Methods("POST")
	api.HandleFunc("/requests/{id}/archive", s.handleArchive).Methods("POST")
	api.HandleFunc("/requests/{id}/audit", s.handleRequestAudit).Methods("GET")

	// Directory
	api.HandleFunc("/users/{id}", s.handlePutUser).Methods("PUT")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/devices/{id}", s.handlePutDevice).Methods("PUT")
	api.HandleFunc("/devices/{id}", s.handleGetDevice).Methods("GET")
	api.HandleFunc("/devices/{id}/quarantine", s.handleQuarantineDevice).Methods("POST")
	api.HandleFunc("/devices/{id}/quarantine", s.handleClearDeviceQuarantine).Methods("DELETE")

	// Sessions
	api.HandleFunc("/sessions", s.handleRegisterSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/validate", s.handleValidateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/revoke", s.handleRevokeSession).Methods("POST")

	// Policies
	api.HandleFunc("/policies", s.handlePushPolicy).Methods("POST")
	api.HandleFunc("/policies/{id}", s.handleGetPolicy).Methods("GET")
	api.HandleFunc("/policies/{id}/history", s.handlePolicyHistory).Methods("GET")
	api.HandleFunc("/policies/{id}/rollback", s.handleRollbackPolicy).Methods("POST")

	// Segments
	api.HandleFunc("/segments", s.handleProvisionSegment).Methods("POST")
	api.HandleFunc("/segments/connections/check", s.handleCheckConnection).Methods("POST")
	api.HandleFunc("/segments/{id}", s.handleGetSegment).Methods("GET")
	api.HandleFunc("/segments/{id}/rules", s.handleAddRule).Methods("POST")
	api.HandleFunc("/segments/{id}/quarantine", s.handleQuarantineSegment).Methods("POST")
	api.HandleFunc("/segments/{id}/quarantine", s.handleClearSegmentQuarantine).Methods("DELETE")
	api.HandleFunc("/segments/{id}/microsegmentation", s.handleMicroSegmentation).Methods("POST")

	// Webhooks
	api.HandleFunc("/webhooks", s.handleRegisterWebhook).Methods("POST")
	api.HandleFunc("/webhooks", s.handleListWebhooks).Methods("GET")
	api.HandleFunc("/webhooks/{id}", s.handleUnregisterWebhook).Methods("DELETE")

	if s.streamer != nil {
		r.HandleFunc("/ws/events", s.streamer.HandleWebSocket)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start(port int) error {
	if s.streamer != nil {
		go s.streamer.Run()
	}

	addr := fmt.Sprintf(":%d", port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	slog.Info("API server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.streamer != nil {
		s.streamer.Stop()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", "error", err)
	}
}

// writeError maps domain error types onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	var nfe *core.NotFoundError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.As(err, &nfe):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
