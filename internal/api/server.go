// =============================================================================
// HTTP ADMIN API - THE NODE'S OPERATIONAL SURFACE
// =============================================================================
//
// WHAT IS THIS?
// The admin server exposes the dispatch core over HTTP for operators and for
// the CLI:
//
//   GET  /health                        liveness probe
//   GET  /metrics                       prometheus scrape endpoint
//   GET  /stats                         JSON queue/lock/merge counters
//   GET  /filestor/status               HTML status fragment
//   GET  /filestor/status/text          plain-text status listing
//   POST /documents                     schedule a document operation
//   POST /filestor/pause                pause dispatch (maintenance gate)
//   POST /filestor/resume               resume dispatch
//   PUT  /filestor/disks/{disk}/state   set a disk's state
//
// The document endpoint is the standalone-mode ingest path; a clustered node
// feeds the handler from its RPC layer instead and keeps only the
// operational routes.
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"filestor/internal/document"
	"filestor/internal/filestor"
	"filestor/internal/storageapi"
)

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the admin HTTP server.
type Server struct {
	handler    *filestor.Handler
	factory    *document.BucketIDFactory
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// nextMsgID assigns unique ids to commands created by this server.
	nextMsgID atomic.Uint64

	// pauseMu guards the single outstanding pause guard.
	pauseMu    sync.Mutex
	pauseGuard *filestor.ResumeGuard
}

// NewServer builds the admin server. metricsHandler serves /metrics; pass
// nil to omit the route.
func NewServer(h *filestor.Handler, factory *document.BucketIDFactory,
	metricsHandler http.Handler, config ServerConfig, logger *slog.Logger) *Server {

	r := chi.NewRouter()
	s := &Server{
		handler: h,
		factory: factory,
		router:  r,
		logger:  logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes(metricsHandler)

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes(metricsHandler http.Handler) {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	if metricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	s.router.Post("/documents", s.handleDocument)

	s.router.Route("/filestor", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/text", s.handleStatus)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Put("/disks/{disk}/state", s.handleDiskState)
	})
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start).String(),
		)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Start begins listening (non-blocking).
func (s *Server) Start() {
	s.logger.Info("starting admin HTTP server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// HEALTH, STATS AND STATUS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.handler.Snapshot()

	disks := make([]map[string]any, len(snap.Disks))
	for i, d := range snap.Disks {
		stripes := make([]map[string]any, len(d.Stripes))
		locks := 0
		for j, stripe := range d.Stripes {
			stripes[j] = map[string]any{
				"queue_size": stripe.QueueLen,
				"locks_held": len(stripe.Locks),
			}
			locks += len(stripe.Locks)
		}
		disks[i] = map[string]any{
			"state":      d.State.String(),
			"queue_size": d.QueueLen,
			"locks_held": locks,
			"stripes":    stripes,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"paused":        snap.Paused,
		"disks":         disks,
		"active_merges": len(snap.ActiveMerges),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/filestor/status/text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	s.handler.WriteStatus(w, r.URL.Path)
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// documentRequest is the ingest payload for standalone mode.
type documentRequest struct {
	Op        string `json:"op"` // put, get, remove, update
	ID        string `json:"id"`
	Payload   string `json:"payload,omitempty"`
	Priority  *uint8 `json:"priority,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

var opTypes = map[string]storageapi.MessageType{
	"put":    storageapi.MessageTypePut,
	"get":    storageapi.MessageTypeGet,
	"remove": storageapi.MessageTypeRemove,
	"update": storageapi.MessageTypeUpdate,
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	msgType, ok := opTypes[req.Op]
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown op %q", req.Op))
		return
	}
	if req.ID == "" {
		s.errorResponse(w, http.StatusBadRequest, "id must not be empty")
		return
	}

	docID := document.DocumentID(req.ID)
	bucket := s.factory.BucketIDFor(docID)
	disk := int(docID.Location() % uint64(s.handler.NumDisks()))

	cmd := storageapi.NewCommand(msgType, bucket, s.nextMsgID.Add(1))
	cmd.DocID = docID
	cmd.Payload = []byte(req.Payload)
	if req.Priority != nil {
		cmd.Pri = *req.Priority
	}
	if req.TimeoutMs > 0 {
		cmd.QueueTimeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	if !s.handler.Schedule(cmd, disk) {
		s.errorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("disk %d is %s", disk, s.handler.GetDiskState(disk)))
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"msg_id": cmd.MsgID(),
		"bucket": bucket.String(),
		"disk":   disk,
	})
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.pauseGuard != nil {
		s.errorResponse(w, http.StatusConflict, "handler is already paused")
		return
	}
	s.pauseGuard = s.handler.Pause()
	s.writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.pauseGuard == nil {
		s.errorResponse(w, http.StatusConflict, "handler is not paused")
		return
	}
	s.pauseGuard.Resume()
	s.pauseGuard = nil
	s.writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

var diskStates = map[string]filestor.DiskState{
	"OPEN":                    filestor.DiskOpen,
	"CLOSED":                  filestor.DiskClosed,
	"DISABLED_BY_MAINTENANCE": filestor.DiskDisabledByMaintenance,
}

func (s *Server) handleDiskState(w http.ResponseWriter, r *http.Request) {
	disk, err := strconv.Atoi(chi.URLParam(r, "disk"))
	if err != nil || disk < 0 || disk >= s.handler.NumDisks() {
		s.errorResponse(w, http.StatusNotFound, "no such disk")
		return
	}

	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	state, ok := diskStates[req.State]
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", req.State))
		return
	}
	if s.handler.GetDiskState(disk) == filestor.DiskClosed {
		s.errorResponse(w, http.StatusConflict, "disk is closed, which is terminal")
		return
	}

	s.handler.SetDiskState(disk, state)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"disk":  disk,
		"state": state.String(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
