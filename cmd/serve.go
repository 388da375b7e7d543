package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/strixsec/strix/internal/api"
	"github.com/strixsec/strix/internal/runs"
	"github.com/strixsec/strix/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan API server",
	Long: `Start the HTTP API server that accepts scan requests and tracks
their progress.

Endpoints:
  POST   /attack            - start a scan ({"url": "..."})
  GET    /status/:run_id    - scan status, logs, and report
  DELETE /attack/:run_id    - cancel a queued or running scan
  GET    /ws/runs/:run_id   - live log stream over websocket
  GET    /health            - liveness and active scan count

Example:
  strix serve
  STRIX_SERVER_PORT=9090 strix serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Bool("cors", true, "enable CORS for the dashboard")
}

func runServe(cmd *cobra.Command, args []string) error {
	if port, err := cmd.Flags().GetInt("port"); err == nil && cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if host, err := cmd.Flags().GetString("host"); err == nil && cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if cors, err := cmd.Flags().GetBool("cors"); err == nil && cmd.Flags().Changed("cors") {
		cfg.Server.EnableCORS = cors
	}

	store := runs.NewStore()
	pool := worker.NewPool(cfg.Worker.Count, 0, log)
	server := api.NewServer(cfg, log, store, pool, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = pool.Shutdown()
		return err
	case sig := <-stop:
		log.Infow("Shutting down", "signal", sig.String())
		return pool.Shutdown()
	}
}
