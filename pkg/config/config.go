// Package config loads, validates, and normalises function configuration.
//
// It supports layered YAML files with environment variable overrides and is
// shared by the hosting runtime, the Functions Framework entry point, and the CLI.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFunctionName is the callable name used when none is configured.
const DefaultFunctionName = "testFunctionRemoteConfigUpdate"

const (
	defaultPort                = 8080
	defaultShutdownTimeout     = 15 * time.Second
	defaultRemoteConfigBaseURL = "https://firebaseremoteconfig.googleapis.com"
	defaultRemoteConfigTimeout = 30 * time.Second
	defaultRemoteConfigUA      = "rcfunctions/remoteconfig"
	defaultReadinessTimeout    = 2 * time.Second
	defaultReadinessUserAgent  = "rcfunctions/readyz"
	defaultHealthPath          = "/health"
	defaultRateLimitWindow     = 60 * time.Second
	defaultRateLimitMax        = 120
	defaultMetricsEnabled      = true
	defaultLogLevel            = "info"
	defaultConfigEnvVar        = "RCFN_CONFIG"
	envPort                    = "PORT"
	envShutdownTimeout         = "SHUTDOWN_TIMEOUT_MS"
	envFunctionName            = "FUNCTION_NAME"
	envProject                 = "GOOGLE_CLOUD_PROJECT"
	envProjectLegacy           = "GCLOUD_PROJECT"
	envRemoteConfigBaseURL     = "REMOTE_CONFIG_BASE_URL"
	envRemoteConfigToken       = "REMOTE_CONFIG_ACCESS_TOKEN"
	envCredentialsFile         = "GOOGLE_APPLICATION_CREDENTIALS"
	envRemoteConfigTimeout     = "REMOTE_CONFIG_TIMEOUT_MS"
	envReadinessTimeout        = "READINESS_TIMEOUT_MS"
	envReadinessUserAgent      = "READINESS_USER_AGENT"
	envGitSHA                  = "GIT_SHA"
	envJWTSecret               = "JWT_SECRET"
	envJWTAudience             = "JWT_AUDIENCE"
	envJWTIssuer               = "JWT_ISSUER"
	envCorsAllowedOrigins      = "CORS_ALLOWED_ORIGINS"
	envRateLimitWindow         = "RATE_LIMIT_WINDOW_MS"
	envRateLimitMax            = "RATE_LIMIT_MAX"
	envMetricsEnabled          = "METRICS_ENABLED"
	envLogLevel                = "LOG_LEVEL"
)

// Config captures runtime configuration for the function and its host.
type Config struct {
	Version      string             `yaml:"version"`
	LogLevel     string             `yaml:"logLevel"`
	HTTP         HTTPConfig         `yaml:"http"`
	Function     FunctionConfig     `yaml:"function"`
	RemoteConfig RemoteConfigConfig `yaml:"remoteConfig"`
	Readiness    ReadinessConfig    `yaml:"readiness"`
	Auth         AuthConfig         `yaml:"auth"`
	CORS         CORSConfig         `yaml:"cors"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// HTTPConfig configures listener behaviour.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// FunctionConfig names the callable endpoint.
type FunctionConfig struct {
	Name string `yaml:"name"`
}

// RemoteConfigConfig describes how the backend application reaches the
// Remote Config service.
type RemoteConfigConfig struct {
	ProjectID       string   `yaml:"projectID"`
	BaseURL         string   `yaml:"baseURL"`
	AccessToken     string   `yaml:"accessToken"`
	CredentialsFile string   `yaml:"credentialsFile"`
	Timeout         Duration `yaml:"timeout"`
	UserAgent       string   `yaml:"userAgent"`
}

// Emulated reports whether the base URL points somewhere other than the
// production service, in which case credentials are optional.
func (c RemoteConfigConfig) Emulated() bool {
	return strings.TrimRight(c.BaseURL, "/") != defaultRemoteConfigBaseURL
}

// ReadinessConfig controls dependency probing.
type ReadinessConfig struct {
	Timeout   Duration         `yaml:"timeout"`
	UserAgent string           `yaml:"userAgent"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
}

// UpstreamConfig defines an external dependency to probe.
type UpstreamConfig struct {
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"baseURL"`
	HealthPath string `yaml:"healthPath"`
}

// AuthConfig captures bearer token validation settings for callable requests.
type AuthConfig struct {
	Secret    string   `yaml:"secret"`
	Audiences []string `yaml:"audiences"`
	Issuer    string   `yaml:"issuer"`
}

// CORSConfig captures allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// RateLimitConfig captures throttling settings applied per client.
type RateLimitConfig struct {
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`
}

// MetricsConfig toggles metrics exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Duration is a YAML-friendly wrapper over time.Duration supporting numeric millisecond inputs.
type Duration time.Duration

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.AsDuration().String(), nil
}

// UnmarshalYAML decodes scalar duration values from either Go duration strings or millisecond integers.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}

	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}

	txt := strings.TrimSpace(value.Value)
	if txt == "" {
		*d = Duration(0)
		return nil
	}
	if ms, err := strconv.Atoi(txt); err == nil {
		if ms < 0 {
			return fmt.Errorf("duration must be non-negative, got %d", ms)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(txt)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", txt, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must be non-negative, got %s", parsed)
	}
	*d = Duration(parsed)
	return nil
}

// DurationFrom constructs a Duration from a time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration(d)
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Version:  os.Getenv(envGitSHA),
		LogLevel: defaultLogLevel,
		HTTP: HTTPConfig{
			Port:            defaultPort,
			ShutdownTimeout: DurationFrom(defaultShutdownTimeout),
		},
		Function: FunctionConfig{
			Name: DefaultFunctionName,
		},
		RemoteConfig: RemoteConfigConfig{
			BaseURL:   defaultRemoteConfigBaseURL,
			Timeout:   DurationFrom(defaultRemoteConfigTimeout),
			UserAgent: defaultRemoteConfigUA,
		},
		Readiness: ReadinessConfig{
			Timeout:   DurationFrom(defaultReadinessTimeout),
			UserAgent: defaultReadinessUserAgent,
		},
		RateLimit: RateLimitConfig{
			Window: DurationFrom(defaultRateLimitWindow),
			Max:    defaultRateLimitMax,
		},
		Metrics: MetricsConfig{
			Enabled: defaultMetricsEnabled,
		},
	}
}

// Option customises the load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	paths     []string
	lookupEnv func(string) (string, bool)
}

// WithPath adds a YAML config path to attempt loading.
func WithPath(path string) Option {
	return func(o *loaderOptions) {
		if strings.TrimSpace(path) != "" {
			o.paths = append(o.paths, path)
		}
	}
}

// WithLookupEnv overrides the environment lookup function (useful for tests).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *loaderOptions) {
		o.lookupEnv = fn
	}
}

// Load builds a Config from defaults, YAML files, and environment overrides (in that order).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		lookupEnv: os.LookupEnv,
	}
	if envPath := strings.TrimSpace(os.Getenv(defaultConfigEnvVar)); envPath != "" {
		options.paths = append(options.paths, envPath)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := Default()

	for _, path := range options.paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, options.lookupEnv); err != nil {
		return cfg, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(key string) (string, bool) {
		val, ok := lookup(key)
		if !ok {
			return "", false
		}
		val = strings.TrimSpace(val)
		return val, val != ""
	}

	if val, ok := str(envPort); ok {
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid %s value: %s", envPort, val)
		}
		cfg.HTTP.Port = port
	}

	if val, ok := str(envShutdownTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envShutdownTimeout, err)
		}
		cfg.HTTP.ShutdownTimeout = DurationFrom(timeout)
	}

	if val, ok := str(envFunctionName); ok {
		cfg.Function.Name = val
	}

	if val, ok := str(envProjectLegacy); ok {
		cfg.RemoteConfig.ProjectID = val
	}
	if val, ok := str(envProject); ok {
		cfg.RemoteConfig.ProjectID = val
	}

	if val, ok := str(envRemoteConfigBaseURL); ok {
		cfg.RemoteConfig.BaseURL = val
	}

	if val, ok := str(envRemoteConfigToken); ok {
		cfg.RemoteConfig.AccessToken = val
	}

	if val, ok := str(envCredentialsFile); ok {
		cfg.RemoteConfig.CredentialsFile = val
	}

	if val, ok := str(envRemoteConfigTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envRemoteConfigTimeout, err)
		}
		cfg.RemoteConfig.Timeout = DurationFrom(timeout)
	}

	if val, ok := str(envReadinessTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envReadinessTimeout, err)
		}
		cfg.Readiness.Timeout = DurationFrom(timeout)
	}

	if val, ok := str(envReadinessUserAgent); ok {
		cfg.Readiness.UserAgent = val
	}

	if val, ok := str(envGitSHA); ok {
		cfg.Version = val
	}

	if val, ok := str(envLogLevel); ok {
		cfg.LogLevel = strings.ToLower(val)
	}

	if val, ok := str(envJWTSecret); ok {
		cfg.Auth.Secret = val
	}

	if val, ok := str(envJWTAudience); ok {
		cfg.Auth.Audiences = splitAndTrim(val)
	}

	if val, ok := str(envJWTIssuer); ok {
		cfg.Auth.Issuer = val
	}

	if val, ok := str(envCorsAllowedOrigins); ok {
		cfg.CORS.AllowedOrigins = splitAndTrim(val)
	}

	if val, ok := str(envRateLimitWindow); ok {
		window, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envRateLimitWindow, err)
		}
		cfg.RateLimit.Window = DurationFrom(window)
	}

	if val, ok := str(envRateLimitMax); ok {
		max, err := strconv.Atoi(val)
		if err != nil || max <= 0 {
			return fmt.Errorf("invalid %s: %s", envRateLimitMax, val)
		}
		cfg.RateLimit.Max = max
	}

	if val, ok := str(envMetricsEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envMetricsEnabled, err)
		}
		cfg.Metrics.Enabled = enabled
	}

	return nil
}

// normalize fills in defaults that may be missing after YAML/env overrides.
func (cfg *Config) normalize() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		cfg.HTTP.ShutdownTimeout = DurationFrom(defaultShutdownTimeout)
	}
	cfg.Function.Name = strings.Trim(strings.TrimSpace(cfg.Function.Name), "/")
	if cfg.Function.Name == "" {
		cfg.Function.Name = DefaultFunctionName
	}
	if strings.TrimSpace(cfg.RemoteConfig.BaseURL) == "" {
		cfg.RemoteConfig.BaseURL = defaultRemoteConfigBaseURL
	}
	cfg.RemoteConfig.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.RemoteConfig.BaseURL), "/")
	if cfg.RemoteConfig.Timeout.AsDuration() <= 0 {
		cfg.RemoteConfig.Timeout = DurationFrom(defaultRemoteConfigTimeout)
	}
	if strings.TrimSpace(cfg.RemoteConfig.UserAgent) == "" {
		cfg.RemoteConfig.UserAgent = defaultRemoteConfigUA
	}
	if cfg.Readiness.Timeout.AsDuration() <= 0 {
		cfg.Readiness.Timeout = DurationFrom(defaultReadinessTimeout)
	}
	if strings.TrimSpace(cfg.Readiness.UserAgent) == "" {
		cfg.Readiness.UserAgent = defaultReadinessUserAgent
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		cfg.RateLimit.Window = DurationFrom(defaultRateLimitWindow)
	}
	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit.Max = defaultRateLimitMax
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaultLogLevel
	}

	for i := range cfg.Readiness.Upstreams {
		if strings.TrimSpace(cfg.Readiness.Upstreams[i].HealthPath) == "" {
			cfg.Readiness.Upstreams[i].HealthPath = defaultHealthPath
		} else {
			cfg.Readiness.Upstreams[i].HealthPath = ensureLeadingSlash(cfg.Readiness.Upstreams[i].HealthPath)
		}
	}
}

// Validate performs semantic validation on the configuration.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.HTTP.Port <= 0 {
		errs = append(errs, fmt.Errorf("http.port must be positive"))
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("http.shutdownTimeout must be positive"))
	}
	if strings.ContainsAny(cfg.Function.Name, "/ ") {
		errs = append(errs, fmt.Errorf("function.name must be a single path segment: %q", cfg.Function.Name))
	}
	if strings.TrimSpace(cfg.RemoteConfig.ProjectID) == "" {
		errs = append(errs, fmt.Errorf("remoteConfig.projectID is required"))
	}
	if _, err := url.ParseRequestURI(cfg.RemoteConfig.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("remoteConfig.baseURL invalid: %w", err))
	}
	if cfg.RemoteConfig.Timeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("remoteConfig.timeout must be positive"))
	}
	if cfg.Readiness.Timeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("readiness.timeout must be positive"))
	}

	seen := make(map[string]struct{})
	for _, upstream := range cfg.Readiness.Upstreams {
		name := strings.TrimSpace(strings.ToLower(upstream.Name))
		if name == "" {
			errs = append(errs, fmt.Errorf("readiness upstream name must not be empty"))
			continue
		}
		if _, exists := seen[name]; exists {
			errs = append(errs, fmt.Errorf("duplicate readiness upstream name: %s", upstream.Name))
			continue
		}
		seen[name] = struct{}{}
		if upstream.BaseURL == "" {
			errs = append(errs, fmt.Errorf("readiness upstream %s requires baseURL", upstream.Name))
		} else if _, err := url.ParseRequestURI(upstream.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("readiness upstream %s baseURL invalid: %w", upstream.Name, err))
		}
	}

	if cfg.RateLimit.Max <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.max must be positive"))
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.window must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func parsePositiveDurationMillis(value string) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("value must be positive: %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitAndTrim(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func ensureLeadingSlash(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
