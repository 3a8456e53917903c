// Package app holds the backend application client: credentials plus the
// Remote Config accessor. It is built once per process and initialised behind
// a single guard shared by every invocation.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/theroutercompany/rcfunctions/internal/remoteconfig"
	"github.com/theroutercompany/rcfunctions/pkg/config"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
)

var remoteConfigScopes = []string{
	"https://www.googleapis.com/auth/firebase.remoteconfig",
	"https://www.googleapis.com/auth/cloud-platform",
}

// CredentialsFinder resolves application default credentials.
type CredentialsFinder func(ctx context.Context, scopes ...string) (oauth2.TokenSource, error)

func findDefaultCredentials(ctx context.Context, scopes ...string) (oauth2.TokenSource, error) {
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	return creds.TokenSource, nil
}

// Option customises an App.
type Option func(*App)

// WithHTTPClient overrides the client used for Remote Config calls.
func WithHTTPClient(client *http.Client) Option {
	return func(a *App) {
		a.httpClient = client
	}
}

// WithCredentialsFinder overrides application default credential discovery.
func WithCredentialsFinder(fn CredentialsFinder) Option {
	return func(a *App) {
		if fn != nil {
			a.findCredentials = fn
		}
	}
}

// WithLogger overrides the logger. Defaults to the shared logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// App is the backend application client.
type App struct {
	cfg             config.RemoteConfigConfig
	httpClient      *http.Client
	findCredentials CredentialsFinder
	logger          pkglog.Logger

	once    sync.Once
	client  *remoteconfig.Client
	initErr error
	inits   atomic.Int64
}

// New returns an uninitialised App.
func New(cfg config.RemoteConfigConfig, opts ...Option) *App {
	a := &App{
		cfg:             cfg,
		findCredentials: findDefaultCredentials,
		logger:          pkglog.Shared(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Init initialises the app on first call. Later calls return the first outcome,
// including a failure.
func (a *App) Init(ctx context.Context) error {
	a.once.Do(func() {
		a.inits.Add(1)
		if ctx == nil {
			ctx = context.Background()
		}
		a.client, a.initErr = a.initialize(context.WithoutCancel(ctx))
		if a.initErr != nil {
			a.logger.Errorw("app initialization failed", "project", a.cfg.ProjectID, "error", a.initErr)
			return
		}
		a.logger.Infow("app initialized", "project", a.cfg.ProjectID, "endpoint", a.client.Endpoint())
	})
	return a.initErr
}

// Initializations reports how many times initialisation actually ran.
func (a *App) Initializations() int64 {
	return a.inits.Load()
}

// RemoteConfig returns the configuration-service accessor, initialising the app if needed.
func (a *App) RemoteConfig(ctx context.Context) (remoteconfig.Fetcher, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	return a.client, nil
}

// Check reports initialisation failures for readiness probes.
func (a *App) Check(ctx context.Context) error {
	return a.Init(ctx)
}

func (a *App) initialize(ctx context.Context) (*remoteconfig.Client, error) {
	tokens, err := a.tokenSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	client, err := remoteconfig.New(remoteconfig.Options{
		ProjectID:   a.cfg.ProjectID,
		BaseURL:     a.cfg.BaseURL,
		HTTPClient:  a.httpClient,
		TokenSource: tokens,
		Timeout:     a.cfg.Timeout.AsDuration(),
		UserAgent:   a.cfg.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("build remote config client: %w", err)
	}
	return client, nil
}

func (a *App) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if token := strings.TrimSpace(a.cfg.AccessToken); token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil
	}

	if path := strings.TrimSpace(a.cfg.CredentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read credentials %q: %w", path, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, remoteConfigScopes...)
		if err != nil {
			return nil, fmt.Errorf("parse credentials %q: %w", path, err)
		}
		return creds.TokenSource, nil
	}

	if a.cfg.Emulated() {
		a.logger.Debugw("no credentials configured for emulated remote config", "baseURL", a.cfg.BaseURL)
		return nil, nil
	}

	return a.findCredentials(ctx, remoteConfigScopes...)
}
