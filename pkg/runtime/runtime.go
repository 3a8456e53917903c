// Package runtime composes configuration, the backend application, the
// remote-config handler, and the HTTP server into a controllable lifecycle
// suitable for the CLI, the Functions Framework entry point, or embedding.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/theroutercompany/rcfunctions/internal/app"
	"github.com/theroutercompany/rcfunctions/internal/callable"
	"github.com/theroutercompany/rcfunctions/internal/platform/health"
	"github.com/theroutercompany/rcfunctions/internal/rcupdate"
	"github.com/theroutercompany/rcfunctions/pkg/auth"
	"github.com/theroutercompany/rcfunctions/pkg/config"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
	"github.com/theroutercompany/rcfunctions/pkg/metrics"
	"github.com/theroutercompany/rcfunctions/pkg/server"
)

var (
	// ErrAlreadyRunning indicates the runtime is already serving requests.
	ErrAlreadyRunning = errors.New("runtime already running")
	// ErrNotRunning indicates the runtime has not been started yet.
	ErrNotRunning = errors.New("runtime not running")
)

type options struct {
	logger            pkglog.Logger
	httpClient        *http.Client
	credentialsFinder app.CredentialsFinder
	registry          *metrics.Registry
}

// Option customises runtime behaviour.
type Option func(*options)

// WithLogger overrides the logger used by the runtime and everything it builds.
func WithLogger(logger pkglog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient sets the client used to reach the Remote Config service.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithCredentialsFinder overrides how default credentials are discovered.
func WithCredentialsFinder(finder app.CredentialsFinder) Option {
	return func(o *options) {
		o.credentialsFinder = finder
	}
}

// WithRegistry supplies the metrics registry instead of creating one.
func WithRegistry(reg *metrics.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

func collectOptions(opts []Option) options {
	o := options{logger: pkglog.Shared()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Function bundles the handler, the backend application it uses, and the
// handler exposed over the callable protocol.
type Function struct {
	Handler *rcupdate.Handler
	App     *app.App
	HTTP    http.Handler
}

// NewFunction builds the callable from configuration.
func NewFunction(cfg config.Config, opts ...Option) (*Function, error) {
	return newFunction(cfg, collectOptions(opts))
}

func newFunction(cfg config.Config, o options) (*Function, error) {
	appOpts := []app.Option{app.WithLogger(o.logger)}
	if o.httpClient != nil {
		appOpts = append(appOpts, app.WithHTTPClient(o.httpClient))
	}
	if o.credentialsFinder != nil {
		appOpts = append(appOpts, app.WithCredentialsFinder(o.credentialsFinder))
	}
	backend := app.New(cfg.RemoteConfig, appOpts...)

	handlerOpts := []rcupdate.Option{rcupdate.WithLogger(o.logger)}
	if cfg.Metrics.Enabled && o.registry != nil {
		handlerOpts = append(handlerOpts, rcupdate.WithMetrics(o.registry))
	}
	handler := rcupdate.New(backend, handlerOpts...)

	callableOpts := []callable.Option{
		callable.WithLogger(o.logger),
		callable.WithMaxBodyBytes(server.MaxRequestBodyBytes),
	}
	if cfg.Auth.Secret != "" {
		authenticator, err := auth.New(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("build authenticator: %w", err)
		}
		callableOpts = append(callableOpts, callable.WithVerifier(authenticator))
	}

	return &Function{
		Handler: handler,
		App:     backend,
		HTTP:    callable.Handler(cfg.Function.Name, handler.Invoke, callableOpts...),
	}, nil
}

// Runtime orchestrates the HTTP server lifecycle based on configuration.
type Runtime struct {
	mu sync.Mutex

	cfg      config.Config
	function *Function
	server   *server.Server
	checker  *health.Checker
	registry *metrics.Registry
	logger   pkglog.Logger

	cancel context.CancelFunc
	errCh  chan error
}

// New constructs a runtime from the provided configuration.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	o := collectOptions(opts)

	if o.registry == nil && cfg.Metrics.Enabled {
		o.registry = metrics.NewRegistry()
	}

	function, err := newFunction(cfg, o)
	if err != nil {
		return nil, err
	}

	checker, err := buildChecker(cfg, function.App)
	if err != nil {
		return nil, err
	}

	srv := server.New(cfg, function.HTTP, checker, o.registry, server.WithLogger(o.logger))

	return &Runtime{
		cfg:      cfg,
		function: function,
		server:   srv,
		checker:  checker,
		registry: o.registry,
		logger:   o.logger,
	}, nil
}

// Start begins serving in the background until the supplied context is cancelled or Shutdown is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errCh != nil {
		return ErrAlreadyRunning
	}

	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.errCh = make(chan error, 1)

	errCh := r.errCh
	go func() {
		errCh <- r.server.Start(runCtx)
		close(errCh)
	}()

	r.logger.Infow("runtime started", "function", r.cfg.Function.Name, "project", r.cfg.RemoteConfig.ProjectID, "emulated", r.cfg.RemoteConfig.Emulated())
	return nil
}

// Wait blocks until the runtime stops and returns the terminal error, normalising context cancellation to nil.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	errCh := r.errCh
	r.mu.Unlock()

	if errCh == nil {
		return ErrNotRunning
	}

	err := <-errCh
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	r.mu.Lock()
	r.errCh = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	return err
}

// Run starts the runtime and waits for completion.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait()
}

// Shutdown gracefully stops the runtime if it is running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server == nil || r.errCh == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if r.cancel != nil {
		r.cancel()
	}

	return r.server.Shutdown(ctx)
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Function returns the callable the runtime serves.
func (r *Runtime) Function() *Function {
	return r.function
}

// Addr returns the bound HTTP address once the server is listening.
func (r *Runtime) Addr() string {
	return r.server.Addr()
}

// Handler returns the server's wrapped HTTP handler.
func (r *Runtime) Handler() http.Handler {
	return r.server.Handler()
}

func buildChecker(cfg config.Config, backend *app.App) (*health.Checker, error) {
	readinessTimeout := cfg.Readiness.Timeout.AsDuration()

	upstreams := make([]health.Upstream, len(cfg.Readiness.Upstreams))
	for i, upstreamCfg := range cfg.Readiness.Upstreams {
		if _, err := hostFromURL(upstreamCfg.BaseURL); err != nil {
			return nil, fmt.Errorf("parse upstream %s base url: %w", upstreamCfg.Name, err)
		}
		upstreams[i] = health.Upstream{
			Name:       upstreamCfg.Name,
			BaseURL:    upstreamCfg.BaseURL,
			HealthPath: upstreamCfg.HealthPath,
		}
	}

	httpClient := &http.Client{
		Timeout:   readinessTimeout,
		Transport: defaultHTTPTransport(),
	}

	return health.NewChecker(httpClient, upstreams, readinessTimeout, cfg.Readiness.UserAgent,
		health.WithCheck("app", backend.Check),
	), nil
}

func defaultHTTPTransport() *http.Transport {
	if base, ok := http.DefaultTransport.(*http.Transport); ok && base != nil {
		return base.Clone()
	}
	return &http.Transport{}
}

func hostFromURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q missing host", raw)
	}
	return parsed.Host, nil
}
