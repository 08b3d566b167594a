// Command taskexecd is the process-isolated task executor daemon: it
// binds the worker callback socket, applies tracked changes to the
// authoritative store, and runs until signaled to stop.
package main

import (
	"fmt"
	"os"

	"taskexec/internal/taskexec/daemoncmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	daemoncmd.SetVersion(fmt.Sprintf("%s (%s, built %s)", version, commit, date))

	if err := daemoncmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
