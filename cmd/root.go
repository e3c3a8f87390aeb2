package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/config"
	"github.com/cloudchase/ollama-organizer/logging"
	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

var (
	cfgFile  string
	logJSON  bool
	logFile  string
	traceOut bool

	loader   *config.Loader
	settings config.Settings
	logger   = logging.Discard()

	closeLog       = func() error { return nil }
	shutdownTracer = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "ollama-organizer",
	Short: "Ollama model organizer - back up local models version by version",
	Long: `Copy locally installed Ollama models into a portable backup tree, one
self-contained models/ directory per version, with every blob verified.

Batches are idempotent: versions already listed in the output's
processed_models.json are skipped, so an interrupted run can simply be
started again.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context; running batches stop between blobs.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer finish()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Settings file (default "+config.DefaultPath()+")")
	pf.String("source", "", "Ollama root containing models/ (default ~/.ollama)")
	pf.String("output", "", "Backup output directory")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	pf.StringVar(&logFile, "log-file", "", "Also append logs to this file")
	pf.BoolVar(&traceOut, "trace", false, "Print OpenTelemetry spans to stderr")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(organizeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads settings (file, env, flags) and builds the logger and tracer
// shared by every subcommand.
func setup(cmd *cobra.Command, _ []string) error {
	loader = config.NewLoader(cfgFile)
	v := loader.Viper()
	for key, flag := range map[string]string{
		config.KeySourceRoot: "source",
		config.KeyOutputRoot: "output",
		config.KeyLogLevel:   "log-level",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}

	var err error
	settings, err = loader.Load()
	if err != nil {
		return err
	}

	l, closeFn, err := logging.New(logging.Options{Level: settings.LogLevel, JSON: logJSON, File: logFile})
	if err != nil {
		return err
	}
	logger, closeLog = l, closeFn
	logger.WithFields(logrus.Fields{
		"config": loader.Path(),
		"source": settings.SourceRoot,
		"output": settings.OutputRoot,
	}).Debug("settings loaded")

	if traceOut {
		shutdownTracer = telemetry.InitTracer(cmd.Context(), "ollama-organizer", os.Stderr)
	}
	return nil
}

func finish() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(ctx); err != nil {
		logger.WithError(err).Warn("tracer shutdown failed")
	}
	if err := closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// sourceStore returns the Ollama tree models are read from.
func sourceStore() *registry.Store {
	return registry.NewStore(settings.SourceRoot).WithHost(settings.RegistryHost)
}

func sourceManager() *registry.ModelManager {
	return registry.NewModelManager(sourceStore())
}

// outputRoot returns the configured backup directory or an error telling the
// user how to set one.
func outputRoot() (string, error) {
	if settings.OutputRoot == "" {
		return "", errors.New("no output directory: pass --output or run 'ollama-organizer config set output_root <dir>'")
	}
	return settings.OutputRoot, nil
}
