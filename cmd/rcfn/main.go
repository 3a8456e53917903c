package main

import (
	"os"

	"github.com/theroutercompany/rcfunctions/internal/cli"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
)

func main() {
	err := cli.NewRootCommand().Execute()
	_ = pkglog.Sync()
	if err != nil {
		os.Exit(1)
	}
}
