// Package ctlcmd implements taskexecctl, a CLI that submits a single task
// against an embedded executor runtime and waits for its outcome. There is
// no admin RPC to an already-running taskexecd (the wire protocol is
// worker-to-parent only), so taskexecctl boots its own short-lived
// bootstrap.Runtime against the same configured store, the same way a
// library consumer would embed the executor directly.
package ctlcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"taskexec/internal/config"
	"taskexec/internal/taskexec/bootstrap"
	"taskexec/internal/taskexec/diffview"
	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/task"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	viper   = viperlib.New()

	submitInputs  string
	submitContext string
	submitTimeout time.Duration

	inspectAttr    string
	inspectInitial string
	inspectCurrent string
)

var rootCmd = &cobra.Command{
	Use:     "taskexecctl",
	Short:   "Submit and inspect tasks against a taskexec store",
	Version: version,
}

var submitCmd = &cobra.Command{
	Use:   "submit <module.path.Attribute>",
	Short: "Submit one task and wait for its terminal outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Render a human-readable diff between two attribute values",
	RunE:  runInspect,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .taskexec/config.yaml, then ~/.config/taskexec/config.yaml)")

	submitCmd.Flags().StringVar(&submitInputs, "inputs", "{}", "JSON object of operation inputs")
	submitCmd.Flags().StringVar(&submitContext, "context", "", "path to a JSON execution context blob ({context_cls, context})")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 60*time.Second, "how long to wait for the task's terminal outcome")
	rootCmd.AddCommand(submitCmd)

	inspectCmd.Flags().StringVar(&inspectAttr, "attr", "value", "attribute name to label the diff with")
	inspectCmd.Flags().StringVar(&inspectInitial, "initial", "", "initial value")
	inspectCmd.Flags().StringVar(&inspectCurrent, "current", "", "current value")
	rootCmd.AddCommand(inspectCmd)
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("listen_addr", defaults.ListenAddr)
	viper.SetDefault("worker_binary", defaults.WorkerBinary)
	viper.SetDefault("executor.startup_timeout", defaults.Executor.StartupTimeout)
	viper.SetDefault("executor.shutdown_timeout", defaults.Executor.ShutdownTimeout)
	viper.SetDefault("store.dsn", defaults.Store.DSN)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(".taskexec")
		viper.AddConfigPath(home + "/.config/taskexec")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	_ = viper.ReadInConfig()
	_ = viper.Unmarshal(&cfg)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	descriptor := args[0]
	idx := strings.LastIndex(descriptor, ".")
	if idx <= 0 || idx == len(descriptor)-1 {
		return fmt.Errorf("ctlcmd: descriptor %q must be of the form module.path.Attribute", descriptor)
	}

	var inputs map[string]any
	if err := json.Unmarshal([]byte(submitInputs), &inputs); err != nil {
		return fmt.Errorf("ctlcmd: decoding --inputs: %w", err)
	}

	var blob protocol.ContextBlob
	if submitContext != "" {
		raw, err := os.ReadFile(submitContext) //nolint:gosec // G304: operator-supplied CLI flag
		if err != nil {
			return fmt.Errorf("ctlcmd: reading --context: %w", err)
		}
		if err := json.Unmarshal(raw, &blob); err != nil {
			return fmt.Errorf("ctlcmd: decoding --context: %w", err)
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	rt, err := bootstrap.Start(cfg)
	if err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	events := rt.Events.Subscribe(ctx)

	t := &task.Task{
		ID: uuid.NewString(),
		Callable: task.Callable{
			ModulePath: descriptor[:idx],
			Attribute:  descriptor[idx+1:],
		},
		Inputs:  inputs,
		Context: blob,
	}

	if err := rt.Executor.Submit(ctx, t); err != nil {
		return fmt.Errorf("submitting task: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ctlcmd: timed out waiting for task %s", t.ID)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("ctlcmd: event stream closed before task %s completed", t.ID)
			}
			if ev.Payload.TaskID != t.ID {
				continue
			}
			switch ev.Payload.State {
			case task.StateSucceeded:
				fmt.Fprintf(cmd.OutOrStdout(), "task %s succeeded\n", t.ID)
				return nil
			case task.StateFailed:
				fmt.Fprintf(cmd.OutOrStdout(), "task %s failed: %s\n", t.ID, t.Exception.Error())
				if t.Exception != nil && t.Exception.Cause != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  caused by: %s\n", t.Exception.Cause.Error())
				}
				return fmt.Errorf("task %s failed", t.ID)
			}
		}
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	out := diffview.Render(inspectAttr, protocol.Value{Initial: inspectInitial, Current: inspectCurrent})
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string reported by --version.
func SetVersion(v string) {
	version = v
}
