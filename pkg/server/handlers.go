package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/httpx"
	"github.com/nicktill/roomusage/pkg/server/monitor"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string               `json:"status"`
	Version   string               `json:"version"`
	Uptime    string               `json:"uptime"`
	Backend   string               `json:"backend"`
	Uploads   monitor.UploadStatus `json:"uploads"`
	WSClients int                  `json:"ws_clients"`
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	if !s.uploadMonitor.IsHealthy() {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   Version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Backend:   s.cfg.Backend,
		Uploads:   s.uploadMonitor.Status(),
		WSClients: s.hub.ClientCount(),
	})
}

// handleStorageUsage returns current storage usage.
func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	if s.storageMonitor == nil {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "storage usage is only tracked for the badger backend with a storage limit")
		return
	}

	usedBytes, err := s.storageMonitor.GetUsage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StorageUsage{
		UsedBytes: usedBytes,
		MaxBytes:  s.storageMonitor.GetLimit(),
	})
}

// handleReady pings the store
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	if _, err := s.store.Stats(ctx); err != nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Router configures all HTTP routes of the service.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/v1").Subrouter()

	// Per-user occupancy data
	user := api.PathPrefix("/users/{user}").Subrouter()
	user.HandleFunc("/uploads", s.ingest.HandleUpload).Methods(http.MethodPost)
	user.HandleFunc("/periods", s.ingest.HandlePeriods).Methods(http.MethodGet)
	user.HandleFunc("/rooms", s.ingest.HandleRooms).Methods(http.MethodGet)
	user.HandleFunc("/usage", s.usage.HandleReport).Methods(http.MethodGet)

	// WebSocket for insert notifications
	user.HandleFunc("/ws", s.hub.HandleWebSocket).Methods(http.MethodGet)

	// Export/import
	user.HandleFunc("/export", s.export.HandleExport).Methods(http.MethodGet)
	user.HandleFunc("/import", s.export.HandleImport).Methods(http.MethodPost)

	// Service state
	api.HandleFunc("/stats", s.ingest.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/storage", s.handleStorageUsage).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)

	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return router
}

// Handler returns the router wrapped in CORS, access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.wrap(s.Router())
}

func (s *Server) wrap(h http.Handler) http.Handler {
	stdLog := zap.NewStdLog(s.logger.With(zap.String("component", "http")))

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	h = cors(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(stdLog), handlers.PrintRecoveryStack(true))(h)
	return handlers.LoggingHandler(stdLog.Writer(), h)
}
