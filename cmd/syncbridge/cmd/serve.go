package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpress/syncbridge/internal/config"
	"github.com/agentpress/syncbridge/internal/server"
	"github.com/agentpress/syncbridge/internal/server/events"
	"github.com/agentpress/syncbridge/pkg/coordinator"
	"github.com/agentpress/syncbridge/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync HTTP server",
	Long: `Serve starts the HTTP API: sync triggers, escalation review,
per-entity event history, and live event streaming over SSE and
WebSocket.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.UpdateFromFlags(verbose, quiet, cfg.NoColor, outputFmt)
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.ListenAddr = listen
	}

	logger := logging.Default()
	broker := events.NewBroker(logger)

	st, err := buildStack(cmd.Context(), cfg,
		coordinator.WithPublisher(server.LedgerPublisher(broker)))
	if err != nil {
		return err
	}
	defer st.Close()

	if restored, err := st.coord.RebuildEscalations(cmd.Context()); err != nil {
		return fmt.Errorf("rebuilding escalation queue: %w", err)
	} else if restored > 0 {
		logger.Info().Int("count", restored).Msg("Restored pending escalations from ledger")
	}

	srv := server.New(st.coord, st.ledger, broker, logger, server.Config{
		ListenAddr: cfg.ListenAddr,
		APIToken:   cfg.APIToken,
	})
	srv.Start()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-cmd.Context().Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown did not complete cleanly")
	}
	return srv.Shutdown(shutdownCtx)
}
