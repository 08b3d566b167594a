// Command taskexecctl submits tasks against a taskexec store and renders
// ad hoc attribute diffs.
package main

import (
	"fmt"
	"os"

	"taskexec/internal/taskexec/ctlcmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctlcmd.SetVersion(fmt.Sprintf("%s (%s, built %s)", version, commit, date))

	if err := ctlcmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
