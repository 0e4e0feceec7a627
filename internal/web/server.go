// Package web exposes the transfer engine over HTTP for the browser client.
//
// Routes live under /api/ingestion and take JSON bodies; the handlers are a
// thin layer that decodes requests, calls core.Service and encodes results.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JonMunkholm/chxfer/internal/config"
	"github.com/JonMunkholm/chxfer/internal/core"
	"github.com/JonMunkholm/chxfer/internal/web/middleware"
)

// HistoryReader lists recent transfers. *history.Store implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]core.TransferRecord, error)
}

// Options carries the server's optional collaborators.
type Options struct {
	// History backs GET /api/ingestion/history. Nil disables the route.
	History HistoryReader
	Logger  *slog.Logger
}

// Server is the HTTP server for the transfer API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	history HistoryReader
	log     *slog.Logger

	router      *chi.Mux
	server      *http.Server
	rateLimiter *middleware.RateLimiter
	stopCleanup chan struct{}
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		service:     service,
		cfg:         cfg,
		history:     opts.History,
		log:         opts.Logger,
		router:      chi.NewRouter(),
		stopCleanup: make(chan struct{}),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Server.TrustedProxies))
	s.router.Use(middleware.Logger(s.log))
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Row-Count", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.cfg.Rate.Enabled {
		s.rateLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: s.cfg.Rate.RequestsPerMinute,
			Burst:             s.cfg.Rate.Burst,
		})
		go s.rateLimiter.Cleanup(time.Minute, s.stopCleanup)
		s.router.Use(s.rateLimiter.Handler)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/ingestion", func(r chi.Router) {
		// Schema discovery
		r.Post("/check-connection", s.handleCheckConnection)
		r.Delete("/connection", s.handleDisconnect)
		r.Post("/tables", s.handleTables)
		r.Post("/columns", s.handleColumns)
		r.Post("/schema", s.handleSchema)
		r.Post("/preview", s.handlePreview)

		// Transfers
		r.Post("/transfer", s.handleTransfer)
		r.Post("/import", s.handleImport)
		r.Post("/export", s.handleExport)
		r.Post("/stream-export", s.handleStreamExport)

		// Large payloads are uploaded first and imported by handle.
		r.Post("/uploads", s.handleUpload)

		r.Get("/history", s.handleHistory)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
		next.ServeHTTP(w, r)
	})
}
