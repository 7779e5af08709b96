// Package http serves the JSON API over the ledger.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"budgetsync/internal/log"
	"budgetsync/internal/middleware/ratelimit"
	"budgetsync/internal/middleware/security"
	"budgetsync/internal/middleware/trace"
	"budgetsync/internal/services"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 10 << 20
)

// Dependencies are the services the API exposes. Devices may be nil.
type Dependencies struct {
	Ledger    *services.Ledger
	Devices   *services.DeviceRegistry
	Logger    *log.Logger
	RateLimit ratelimit.Config
	Headers   security.HeadersConfig
}

// Server wraps http.Server with the API routes and middleware chain.
type Server struct {
	http.Server

	ledger   *services.Ledger
	devices  *services.DeviceRegistry
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	events   *eventHub
	ready    atomic.Bool
}

// NewServer builds the API server listening on addr.
func NewServer(addr string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	headers := deps.Headers
	if headers == (security.HeadersConfig{}) {
		headers = security.DefaultHeadersConfig()
	}

	s := &Server{
		ledger:   deps.Ledger,
		devices:  deps.Devices,
		logger:   logger,
		limiter:  ratelimit.NewLimiter(deps.RateLimit),
		detector: security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)
	s.events = newEventHub(deps.Ledger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/devices", s.handleDevices)

	mux.HandleFunc("GET /api/document", s.handleGetDocument)
	mux.HandleFunc("PUT /api/document", s.handleReplaceDocument)
	mux.HandleFunc("POST /api/document/reload", s.handleReloadDocument)

	mux.HandleFunc("POST /api/operations", s.handleAddOperation)
	mux.HandleFunc("DELETE /api/operations/{id}", s.handleDeleteOperation)

	mux.HandleFunc("POST /api/categories", s.handleAddCategory)
	mux.HandleFunc("DELETE /api/categories/{type}/{id}", s.handleRemoveCategory)

	mux.HandleFunc("POST /api/goals", s.handleAddGoal)
	mux.HandleFunc("DELETE /api/goals/{id}", s.handleRemoveGoal)
	mux.HandleFunc("POST /api/goals/{id}/contributions", s.handleContribute)

	mux.HandleFunc("PUT /api/limits/{category}", s.handleSetLimit)
	mux.HandleFunc("DELETE /api/limits/{category}", s.handleRemoveLimit)
	mux.HandleFunc("PUT /api/settings/{key}", s.handleUpdateSetting)

	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("POST /api/backup", s.handleBackup)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(handler)
	handler = s.rejectSuspicious(handler)
	handler = security.NewHeadersMiddleware(headers).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	// Only the header read is bounded; a read or write deadline would cut
	// event streams. Bodies are capped by size instead.
	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// SetReady flips the readiness probe once the ledger is open.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Shutdown stops event streams, then the listener, then the limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.close()
	err := s.Server.Shutdown(ctx)
	s.limiter.Stop()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) rejectSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request rejected",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ExtractClientIP(r))
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
}
