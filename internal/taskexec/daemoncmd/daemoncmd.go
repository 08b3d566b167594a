// Package daemoncmd implements the taskexecd daemon's command-line
// entrypoint: config loading, executor bring-up, and graceful shutdown on
// signal.
package daemoncmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"taskexec/internal/config"
	"taskexec/internal/log"
	"taskexec/internal/taskexec/bootstrap"
	"taskexec/internal/watcher"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool

	viper = viperlib.New()
)

var rootCmd = &cobra.Command{
	Use:     "taskexecd",
	Short:   "Process-isolated task executor daemon",
	Long:    "taskexecd spawns worker subprocesses for submitted tasks and applies their tracked changes to the authoritative store.",
	Version: version,
	RunE:    runDaemon,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .taskexec/config.yaml, then ~/.config/taskexec/config.yaml)")
	rootCmd.Flags().String("listen-addr", "", "loopback address to bind (default: 127.0.0.1:0, ephemeral)")
	rootCmd.Flags().String("worker-binary", "", "path to the taskworker executable")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also: TASKEXEC_DEBUG=1)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen-addr"))
	_ = viper.BindPFlag("worker_binary", rootCmd.Flags().Lookup("worker-binary"))
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
	} else if _, err := os.Stat(".taskexec/config.yaml"); err == nil {
		viper.SetConfigFile(".taskexec/config.yaml")
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "taskexec"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			defaultPath := ".taskexec/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
				log.Info(log.CatConfig, "config loaded", "path", defaultPath)
			}
		}
	} else {
		log.Info(log.CatConfig, "config loaded", "path", viper.ConfigFileUsed())
	}

	_ = viper.Unmarshal(&cfg)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if debugFlag || os.Getenv("TASKEXEC_DEBUG") != "" {
		logPath := os.Getenv("TASKEXEC_LOG")
		if logPath == "" {
			logPath = "taskexecd.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
		log.Info(log.CatConfig, "taskexecd starting", "version", version)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	rt, err := bootstrap.Start(cfg)
	if err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error(log.CatExecutor, "shutdown error", "error", err.Error())
		}
	}()

	log.Info(log.CatExecutor, "taskexecd listening", "addr", rt.Executor.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "taskexecd listening on %s\n", rt.Executor.Addr().String())

	w, watchErr := watcher.New(watcher.DefaultConfig(viper.ConfigFileUsed(), cfg.PluginDirs))
	var reload <-chan struct{}
	if watchErr == nil {
		reload, watchErr = w.Start()
		if watchErr == nil {
			defer func() { _ = w.Stop() }()
		}
	}
	if watchErr != nil {
		log.Debug(log.CatWatcher, "config watcher unavailable", "error", watchErr.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatExecutor, "shutdown signal received")
			return nil
		case <-reload:
			log.Info(log.CatWatcher, "config or plugin directory changed; restart to apply")
		}
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string reported by --version.
func SetVersion(v string) {
	version = v
}
