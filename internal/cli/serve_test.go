package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theroutercompany/rcfunctions/pkg/config"
)

func serveConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP.Port = 0
	cfg.LogLevel = "error"
	cfg.RemoteConfig.ProjectID = "demo-project"
	cfg.RemoteConfig.BaseURL = "http://127.0.0.1:9199"
	return cfg
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, serveConfig(), nil, nil) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeRestartsOnReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadCh := make(chan config.Config)
	watchErr := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, serveConfig(), reloadCh, watchErr) }()

	watchErr <- assert.AnError

	next := serveConfig()
	next.Function.Name = "renamed"
	select {
	case reloadCh <- next:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not accepted")
	}

	// A second reload proves the loop came back around with a fresh runtime.
	select {
	case reloadCh <- serveConfig():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime was not rebuilt after reload")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeRequiresConfigForWatch(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "serve", "--watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config is required")
}

func TestWatchConfigEmitsReloadedConfig(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "rcfn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remoteConfig:\n  projectID: first\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadCh, _, stop, err := watchConfig(ctx, path, []config.Option{config.WithPath(path)})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("remoteConfig:\n  projectID: second\n"), 0o644))

	select {
	case cfg := <-reloadCh:
		assert.Equal(t, "second", cfg.RemoteConfig.ProjectID)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchConfigReportsLoadErrors(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "rcfn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remoteConfig:\n  projectID: first\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, errCh, stop, err := watchConfig(ctx, path, []config.Option{config.WithPath(path)})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("remoteConfig: [\n"), 0o644))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no error observed")
	}
}

func TestTargetsFile(t *testing.T) {
	target, err := filepath.Abs("rcfn.yaml")
	require.NoError(t, err)

	assert.True(t, targetsFile("rcfn.yaml", target))
	assert.False(t, targetsFile("other.yaml", target))
	assert.False(t, targetsFile("", target))
}
