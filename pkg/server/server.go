// Package server exposes the HTTP server wiring for the function host,
// combining middleware, the callable route, and lifecycle helpers. Callers
// typically use it via the runtime package but can embed it directly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/theroutercompany/rcfunctions/internal/callable"
	"github.com/theroutercompany/rcfunctions/internal/openapi"
	"github.com/theroutercompany/rcfunctions/internal/platform/health"
	"github.com/theroutercompany/rcfunctions/pkg/config"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
	"github.com/theroutercompany/rcfunctions/pkg/metrics"
	"github.com/theroutercompany/rcfunctions/pkg/server/middleware"
)

// MaxRequestBodyBytes caps every request body accepted by the server.
const MaxRequestBodyBytes int64 = 1 << 20 // 1 MiB

type readinessReporter interface {
	Readiness(ctx context.Context) health.Report
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithOpenAPIProvider overrides the default OpenAPI document provider.
func WithOpenAPIProvider(provider openapi.DocumentProvider) Option {
	return func(s *Server) {
		s.openapiProvider = provider
	}
}

// WithLogger overrides the logger used by the server. Defaults to the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server coordinates HTTP routes and lifecycle hooks.
type Server struct {
	cfg             config.Config
	router          *http.ServeMux
	httpServer      *http.Server
	handler         http.Handler
	function        http.Handler
	healthChecker   readinessReporter
	bootTime        time.Time
	metricsHandler  http.Handler
	rateLimiter     *rateLimiter
	cors            *cors.Cors
	openapiProvider openapi.DocumentProvider
	requestMetrics  *requestMetrics
	logger          pkglog.Logger

	mu   sync.Mutex
	addr string
}

// New constructs a server mounting function at /{cfg.Function.Name}.
func New(cfg config.Config, function http.Handler, checker readinessReporter, registry *metrics.Registry, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		cfg:           cfg,
		router:        mux,
		function:      function,
		healthChecker: checker,
		bootTime:      time.Now().UTC(),
		rateLimiter:   newRateLimiter(cfg.RateLimit.Window.AsDuration(), cfg.RateLimit.Max),
		cors:          buildCORS(cfg.CORS.AllowedOrigins),
		logger:        pkglog.Shared(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if cfg.Metrics.Enabled && registry != nil {
		s.metricsHandler = registry.Handler()
		s.requestMetrics = newRequestMetrics(registry, s.functionPath())
	}

	if s.openapiProvider == nil {
		s.openapiProvider = openapi.NewService(
			openapi.WithFunctionName(cfg.Function.Name),
			openapi.WithVersion(cfg.Version),
		)
	}

	s.mountRoutes()

	rj := middleware.Rejector{TraceID: traceIDFromContext, Write: callable.WriteError}
	access := middleware.AccessLog{
		Logger:     s.logger,
		RequestID:  requestIDFromContext,
		TraceID:    traceIDFromContext,
		ClientAddr: clientAddress,
	}
	if s.requestMetrics != nil {
		access.Track = s.requestMetrics.track
	}
	var limiter middleware.Limiter
	if s.rateLimiter != nil {
		limiter = middleware.LimiterFunc(s.rateLimiter.allow)
	}

	http2Server := &http2.Server{}
	handler := middleware.Chain(mux,
		middleware.RequestMetadata(ensureRequestIDs),
		middleware.SecurityHeaders(),
		middleware.Recover(s.logger, rj),
		access.Middleware(),
		middleware.CORS(s.cors, rj),
		middleware.RateLimit(limiter, clientKey, time.Now, rj),
		middleware.BodyLimit(MaxRequestBodyBytes, rj),
	)
	handler = h2c.NewHandler(handler, http2Server)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureServer(s.httpServer, http2Server); err != nil {
		s.logger.Errorw("failed to configure http2 server", "error", err)
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound listener address once Start has begun serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start begins serving HTTP requests until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	if s.httpServer == nil {
		return errors.New("http server not initialised")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.logger.Errorw("http server failed to listen", "addr", s.httpServer.Addr, "error", err)
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", ln.Addr().String(), "function", s.functionPath())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.AsDuration())
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("http server shutdown failed", "error", err)
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			s.logger.Errorw("http server stopped with error", "error", err)
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP server using the provided context.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) functionPath() string {
	return "/" + s.cfg.Function.Name
}

func (s *Server) mountRoutes() {
	if s.function != nil {
		s.router.Handle(s.functionPath(), s.function)
	}
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/readyz", s.handleReadiness)
	s.router.HandleFunc("/readiness", s.handleReadiness)
	if s.openapiProvider != nil {
		s.router.HandleFunc("/openapi.json", s.handleOpenAPI)
	}
	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler)
	}
}

func clientKey(r *http.Request) string {
	addr := clientAddress(r)
	if addr == "" {
		return "global"
	}
	return addr
}

func clientAddress(r *http.Request) string {
	if r == nil {
		return ""
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func buildCORS(origins []string) *cors.Cors {
	allowAll := len(origins) == 0

	allowed := make(map[string]struct{})
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			break
		}
		allowed[o] = struct{}{}
	}

	return cors.New(cors.Options{
		AllowedMethods:       []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Authorization", "Content-Type", "X-Request-Id", "X-Trace-Id", "X-Firebase-AppCheck"},
		ExposedHeaders:       []string{"X-Request-Id", "X-Trace-Id"},
		OptionsSuccessStatus: http.StatusNoContent,
		AllowOriginRequestFunc: func(_ *http.Request, origin string) bool {
			if origin == "" || allowAll {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, requestID, _ := ensureRequestIDs(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	response := struct {
		Status    string  `json:"status"`
		Uptime    float64 `json:"uptime"`
		Timestamp string  `json:"timestamp"`
		Version   string  `json:"version,omitempty"`
	}{
		Status:    "ok",
		Uptime:    time.Since(s.bootTime).Seconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	var requestID, traceID string
	r, requestID, traceID = ensureRequestIDs(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	report := health.Report{Status: health.StatusReady, CheckedAt: time.Now().UTC()}
	if s.healthChecker != nil {
		report = s.healthChecker.Readiness(r.Context())
	}

	statusCode := http.StatusOK
	if report.Status != health.StatusReady {
		statusCode = http.StatusServiceUnavailable
	}

	response := struct {
		Status    string               `json:"status"`
		CheckedAt time.Time            `json:"checkedAt"`
		Checks    []health.CheckReport `json:"checks"`
		RequestID string               `json:"requestId,omitempty"`
		TraceID   string               `json:"traceId,omitempty"`
	}{
		Status:    report.Status,
		CheckedAt: report.CheckedAt,
		Checks:    report.Checks,
		RequestID: requestID,
		TraceID:   traceID,
	}

	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	data, err := s.openapiProvider.Document(r.Context())
	if err != nil {
		callable.WriteError(w, http.StatusServiceUnavailable, "OpenAPI Unavailable", err.Error(), traceIDFromContext(r.Context()), r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warnw("failed to write openapi response", "error", err)
	}
}
