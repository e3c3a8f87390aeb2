package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cloudchase/ollama-organizer/api"
	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the organizer HTTP API: list and inspect versions, run organize
batches with streamed progress, delete versions and expose /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from settings, :11435)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	addr := settings.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	mgr := sourceManager()
	exec := organizer.NewExecutor(mgr.Store())
	exec.VerifyContent = settings.VerifyContent
	exec.Tracer = telemetry.Tracer()

	srv := api.NewServer(mgr, exec, api.Config{
		Addr:        addr,
		OutputRoot:  settings.OutputRoot,
		Concurrency: settings.Concurrency,
		Metrics:     telemetry.NewMetrics(),
		Logger:      logger,
	})
	return srv.Start(cmd.Context())
}
