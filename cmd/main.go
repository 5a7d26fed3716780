package main

import (
	"os"

	"github.com/ZanzyTHEbar/dbagent/internal/cli"
)

// Set by the release build via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(int(cli.Run(cli.BuildInfo{Version: version, Commit: commit})))
}
