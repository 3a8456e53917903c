// Package rcfunctions registers testFunctionRemoteConfigUpdate with the
// Functions Framework so it can be deployed as a Cloud Function or run
// locally through cmd/function.
package rcfunctions

import (
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/theroutercompany/rcfunctions/internal/callable"
	"github.com/theroutercompany/rcfunctions/pkg/config"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
	"github.com/theroutercompany/rcfunctions/pkg/runtime"
)

func init() {
	functions.HTTP(config.DefaultFunctionName, Serve)
}

var (
	buildOnce sync.Once
	function  http.Handler
	buildErr  error
)

// Serve handles one invocation. The function is built from the environment on
// first use and shared by every later invocation in the process.
func Serve(w http.ResponseWriter, r *http.Request) {
	buildOnce.Do(func() {
		function, buildErr = build()
	})
	if buildErr != nil {
		pkglog.Shared().Errorw("function unavailable", "error", buildErr)
		callable.WriteError(w, http.StatusInternalServerError, "INTERNAL", "", "", r.URL.Path)
		return
	}
	function.ServeHTTP(w, r)
}

func build() (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := pkglog.Shared()
	if cfg.LogLevel != "" {
		if leveled, err := pkglog.New(cfg.LogLevel); err == nil {
			logger = leveled
		}
	}

	fn, err := runtime.NewFunction(cfg, runtime.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return fn.HTTP, nil
}
