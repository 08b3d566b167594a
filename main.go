// Package main is the entry point for the taskexecd daemon. The same
// binary also builds under cmd/taskexecd for an explicit daemon-named
// executable; this root entrypoint exists so `go run .`/`go build .` at
// the module root produces the daemon directly.
package main

import (
	"fmt"
	"os"

	"taskexec/internal/taskexec/daemoncmd"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	versionString := fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	daemoncmd.SetVersion(versionString)
	if err := daemoncmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
