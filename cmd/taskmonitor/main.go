// Command taskmonitor is a live terminal dashboard over a taskexec
// executor's task state transitions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"taskexec/internal/config"
	"taskexec/internal/log"
	"taskexec/internal/taskexec/bootstrap"
	"taskexec/internal/taskexec/monitorui"
)

func main() {
	cfgPath := flag.String("config", "", "path to a taskexec config.yaml (default: built-in defaults)")
	flag.Parse()

	cfg := config.Defaults()
	if *cfgPath != "" {
		loaded, err := config.LoadFile(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "taskmonitor:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	rt, err := bootstrap.Start(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskmonitor: starting runtime:", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error(log.CatExecutor, "taskmonitor shutdown error", "error", err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := monitorui.New(ctx, rt.Events)
	p := tea.NewProgram(&model, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "taskmonitor:", err)
		os.Exit(1)
	}
}
