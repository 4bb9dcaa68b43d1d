// Package server exposes the orchestrator over HTTP: a JSON API for flow and step actions,
// the redirect target that receives authorization responses, and the relay endpoint.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wadahiro/flowlens/internal/flow"
	"github.com/wadahiro/flowlens/internal/metrics"
	"github.com/wadahiro/flowlens/internal/orchestrator"
)

// Options configures a Server.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	// Relay serves POST requests on RelayPath. Nil disables the relay endpoint.
	Relay        http.Handler
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	RelayPath    string
	CallbackPath string
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:    opts.Orchestrator,
		metrics: opts.Metrics,
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.routes(opts)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if opts.Relay != nil && opts.RelayPath != "" {
		r.Method(http.MethodPost, opts.RelayPath, opts.Relay)
	}
	if opts.CallbackPath != "" {
		r.Get(opts.CallbackPath, s.handleCallback)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Put("/active", s.handleSelectFlow)
		r.Get("/flows", s.handleListFlows)
		r.Post("/flows", s.handleCreateFlow)

		r.Route("/flows/{flowID}", func(r chi.Router) {
			r.Get("/", s.handleGetFlow)
			r.Patch("/", s.handleRenameFlow)
			r.Delete("/", s.handleDeleteFlow)
			r.Post("/fork", s.handleForkFlow)
			r.Post("/reset", s.handleReset)
			r.Post("/steps", s.handleAddStep)

			r.Post("/start", s.handleStart)
			r.Post("/discover", s.handleDiscover)
			r.Get("/registration/defaults", s.handleRegistrationDefaults)
			r.Post("/register", s.handleRegister)
			r.Post("/credentials", s.handleCredentials)
			r.Get("/authorization/defaults", s.handleAuthorizationDefaults)
			r.Post("/authorize", s.handleAuthorize)
			r.Get("/token/defaults", s.handleTokenDefaults)
			r.Post("/token", s.handleToken)
			r.Get("/refresh/defaults", s.handleRefreshDefaults)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/introspect/defaults", s.handleInspectDefaults(flow.StepIntrospect))
			r.Post("/introspect", s.handleInspect(flow.StepIntrospect))
			r.Get("/revoke/defaults", s.handleInspectDefaults(flow.StepRevoke))
			r.Post("/revoke", s.handleInspect(flow.StepRevoke))
		})
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}
