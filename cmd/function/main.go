// Command function runs testFunctionRemoteConfigUpdate on a local Functions
// Framework server. Set FUNCTION_TARGET to serve it at "/".
package main

import (
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"

	_ "github.com/theroutercompany/rcfunctions"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
)

func main() {
	port := "8080"
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}

	logger := pkglog.Shared()
	defer func() { _ = pkglog.Sync() }()

	logger.Infow("functions framework starting", "port", port, "target", os.Getenv("FUNCTION_TARGET"))
	if err := funcframework.Start(port); err != nil {
		logger.Errorw("functions framework stopped", "error", err)
		_ = pkglog.Sync()
		os.Exit(1)
	}
}
