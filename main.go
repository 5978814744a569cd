package main

import (
	"os"

	"github.com/bnema/dreampipe/cmd"
)

// Set by -ldflags at build time
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
