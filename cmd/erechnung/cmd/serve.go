package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	serveWorker  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for generating, validating, exporting and
delivering invoices.

The API provides endpoints for:
  - POST /api/v1/generate/:format        - Generate XRechnung or ZUGFeRD
  - POST /api/v1/validate                - Validate an invoice snapshot
  - POST /api/v1/validate/xml            - Validate a received XRechnung
  - POST /api/v1/validate/explain        - Validate and ask the advisor
  - POST /api/v1/export                  - Export a batch as zip
  - POST /api/v1/export/validate         - Dry-run a batch export
  - POST /api/v1/deliveries              - Deliver an invoice
  - GET  /api/v1/deliveries/:id          - Delivery attempt status
  - POST /api/v1/deliveries/:id/cancel   - Cancel a scheduled attempt
  - GET  /api/v1/delivery/channels       - List channels
  - PUT  /api/v1/delivery/channels/:id   - Create or update a channel
  - GET  /api/v1/delivery/rules          - List rules
  - POST /api/v1/delivery/rules          - Create a rule
  - GET  /health                         - Health check

Examples:
  # Start server on the configured address (env: HTTP_ADDRESS)
  erechnung serve

  # Start on a custom port and run the retry worker in-process
  erechnung serve --address :9000 --with-worker`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (env: HTTP_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable gin debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "HTTP read timeout (env: HTTP_READ_TIMEOUT)")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "HTTP write timeout (env: HTTP_WRITE_TIMEOUT)")
	serveCmd.Flags().BoolVar(&serveWorker, "with-worker", false, "Also poll for due delivery attempts")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := onlineService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	config := &server.Config{
		Address:      firstNonEmpty(serverAddr, cfg.HTTPAddress),
		ReadTimeout:  firstPositive(readTimeout, cfg.HTTPReadTimeout),
		WriteTimeout: firstPositive(writeTimeout, cfg.HTTPWriteTimeout),
		Debug:        serverDebug,
	}
	srv := server.NewServer(config, svc, log.Logger.With().Str("component", "http").Logger()).HTTPServer()

	if serveWorker {
		sched, err := svc.NewScheduler(cfg.DeliveryPollSchedule, cfg.DeliveryBatchSize)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() { <-sched.Stop().Done() }()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", config.Address).Bool("worker", serveWorker).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
