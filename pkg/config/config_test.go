package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		val, ok := env[key]
		return val, ok
	}
}

func TestLoadFromEnvSuccess(t *testing.T) {
	t.Setenv("RCFN_CONFIG", "")
	env := map[string]string{
		"PORT":                       "9090",
		"SHUTDOWN_TIMEOUT_MS":        "7000",
		"FUNCTION_NAME":              "/rcUpdate/",
		"GCLOUD_PROJECT":             "legacy-project",
		"GOOGLE_CLOUD_PROJECT":       "demo-project",
		"REMOTE_CONFIG_BASE_URL":     "http://127.0.0.1:9199/",
		"REMOTE_CONFIG_ACCESS_TOKEN": "owner",
		"REMOTE_CONFIG_TIMEOUT_MS":   "2500",
		"READINESS_TIMEOUT_MS":       "1500",
		"READINESS_USER_AGENT":       "rcfn/readyz-test",
		"GIT_SHA":                    "def456",
		"LOG_LEVEL":                  "DEBUG",
		"JWT_SECRET":                 "supersecret",
		"JWT_AUDIENCE":               "demo-project, mobile",
		"JWT_ISSUER":                 "https://securetoken.google.com/demo-project",
		"CORS_ALLOWED_ORIGINS":       "https://a.example.com;https://b.example.com",
		"RATE_LIMIT_WINDOW_MS":       "90000",
		"RATE_LIMIT_MAX":             "300",
		"METRICS_ENABLED":            "false",
	}

	cfg, err := Load(WithLookupEnv(lookupFrom(env)))
	if err != nil {
		t.Fatalf("expected successful load, got error: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() != 7*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.HTTP.ShutdownTimeout.AsDuration())
	}
	if cfg.Function.Name != "rcUpdate" {
		t.Fatalf("expected slashes trimmed from function name, got %q", cfg.Function.Name)
	}
	if cfg.RemoteConfig.ProjectID != "demo-project" {
		t.Fatalf("expected GOOGLE_CLOUD_PROJECT to win, got %s", cfg.RemoteConfig.ProjectID)
	}
	if cfg.RemoteConfig.BaseURL != "http://127.0.0.1:9199" {
		t.Fatalf("unexpected base url: %s", cfg.RemoteConfig.BaseURL)
	}
	if !cfg.RemoteConfig.Emulated() {
		t.Fatalf("expected non-production base url to be emulated")
	}
	if cfg.RemoteConfig.AccessToken != "owner" {
		t.Fatalf("unexpected access token: %s", cfg.RemoteConfig.AccessToken)
	}
	if cfg.RemoteConfig.Timeout.AsDuration() != 2500*time.Millisecond {
		t.Fatalf("unexpected remote config timeout: %v", cfg.RemoteConfig.Timeout.AsDuration())
	}
	if cfg.Readiness.Timeout.AsDuration() != 1500*time.Millisecond {
		t.Fatalf("unexpected readiness timeout: %v", cfg.Readiness.Timeout.AsDuration())
	}
	if cfg.Readiness.UserAgent != "rcfn/readyz-test" {
		t.Fatalf("unexpected user agent: %s", cfg.Readiness.UserAgent)
	}
	if cfg.Version != "def456" {
		t.Fatalf("unexpected version: %s", cfg.Version)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if cfg.Auth.Secret != "supersecret" {
		t.Fatalf("unexpected auth secret: %s", cfg.Auth.Secret)
	}
	if len(cfg.Auth.Audiences) != 2 || cfg.Auth.Audiences[0] != "demo-project" || cfg.Auth.Audiences[1] != "mobile" {
		t.Fatalf("unexpected audiences: %#v", cfg.Auth.Audiences)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %#v", cfg.CORS.AllowedOrigins)
	}
	if cfg.RateLimit.Window.AsDuration() != 90*time.Second {
		t.Fatalf("unexpected rate limit window: %v", cfg.RateLimit.Window.AsDuration())
	}
	if cfg.RateLimit.Max != 300 {
		t.Fatalf("unexpected rate limit max: %d", cfg.RateLimit.Max)
	}
	if cfg.Metrics.Enabled {
		t.Fatalf("expected metrics disabled")
	}
}

func TestLoadRequiresProject(t *testing.T) {
	t.Setenv("RCFN_CONFIG", "")
	_, err := Load(WithLookupEnv(lookupFrom(map[string]string{})))
	if err == nil {
		t.Fatalf("expected error when project is missing")
	}
	if !strings.Contains(err.Error(), "remoteConfig.projectID is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("RCFN_CONFIG", "")
	cases := map[string]string{
		"PORT":                     "abc",
		"REMOTE_CONFIG_TIMEOUT_MS": "-5",
		"RATE_LIMIT_MAX":           "0",
		"METRICS_ENABLED":          "perhaps",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			env := map[string]string{"GOOGLE_CLOUD_PROJECT": "demo-project", key: value}
			if _, err := Load(WithLookupEnv(lookupFrom(env))); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("RCFN_CONFIG", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "rcfn.yaml")
	yamlDoc := `
version: yaml-version
http:
  port: 7070
  shutdownTimeout: 3s
function:
  name: fromYaml
remoteConfig:
  projectID: yaml-project
  timeout: 1500
readiness:
  upstreams:
    - name: emulator
      baseURL: http://127.0.0.1:9199
      healthPath: status
rateLimit:
  window: 2m
  max: 10
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(WithPath(path), WithLookupEnv(lookupFrom(map[string]string{"PORT": "6060"})))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Port != 6060 {
		t.Fatalf("expected env to override yaml port, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() != 3*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.HTTP.ShutdownTimeout.AsDuration())
	}
	if cfg.Function.Name != "fromYaml" {
		t.Fatalf("unexpected function name: %s", cfg.Function.Name)
	}
	if cfg.RemoteConfig.ProjectID != "yaml-project" {
		t.Fatalf("unexpected project: %s", cfg.RemoteConfig.ProjectID)
	}
	if cfg.RemoteConfig.Timeout.AsDuration() != 1500*time.Millisecond {
		t.Fatalf("expected millisecond integer timeout, got %v", cfg.RemoteConfig.Timeout.AsDuration())
	}
	if cfg.RemoteConfig.BaseURL != "https://firebaseremoteconfig.googleapis.com" || cfg.RemoteConfig.Emulated() {
		t.Fatalf("expected production base url default, got %s", cfg.RemoteConfig.BaseURL)
	}
	if len(cfg.Readiness.Upstreams) != 1 || cfg.Readiness.Upstreams[0].HealthPath != "/status" {
		t.Fatalf("unexpected upstreams: %#v", cfg.Readiness.Upstreams)
	}
	if cfg.RateLimit.Window.AsDuration() != 2*time.Minute || cfg.RateLimit.Max != 10 {
		t.Fatalf("unexpected rate limit: %#v", cfg.RateLimit)
	}
}

func TestLoadSkipsMissingFiles(t *testing.T) {
	t.Setenv("RCFN_CONFIG", "")
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	cfg, err := Load(WithPath(missing), WithLookupEnv(lookupFrom(map[string]string{"GOOGLE_CLOUD_PROJECT": "p"})))
	if err != nil {
		t.Fatalf("expected missing file to be ignored: %v", err)
	}
	if cfg.Function.Name != "testFunctionRemoteConfigUpdate" {
		t.Fatalf("unexpected default function name: %s", cfg.Function.Name)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = -1
	cfg.Function.Name = "a/b"
	cfg.Readiness.Upstreams = []UpstreamConfig{
		{Name: "dup", BaseURL: "http://a"},
		{Name: "dup", BaseURL: "http://b"},
		{Name: "", BaseURL: "http://c"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"http.port must be positive",
		"function.name must be a single path segment",
		"remoteConfig.projectID is required",
		"duplicate readiness upstream name: dup",
		"readiness upstream name must not be empty",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestDurationRejectsNegativeMillis(t *testing.T) {
	t.Setenv("RCFN_CONFIG", "")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("remoteConfig:\n  timeout: -10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(WithPath(path), WithLookupEnv(lookupFrom(nil))); err == nil {
		t.Fatalf("expected negative duration to fail decoding")
	}
}
