package cmd

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wikitrust/internal/api"
	"github.com/JakeFAU/wikitrust/internal/ranking"
	"github.com/JakeFAU/wikitrust/internal/storage/postgres"
)

// newServeCmd creates the 'serve' subcommand, which exposes the ranking over
// a read-only HTTP API until interrupted.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the domain ranking over HTTP",
		Long: `Serves /api/domains, /api/domains/{domain}, and /api/connections from the
relational store, plus /healthz, /readyz, and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()

			store, err := appInstance.Store(cmd.Context())
			if err != nil {
				return err
			}
			shared := postgres.NewShared(store)
			residual := rankingOptions(cfg).Residual
			handler := api.NewRankingHandler(ranking.NewEngine(shared, logger), shared, residual, logger)

			if addr == "" {
				addr = cfg.Server.MetricsAddr
			}
			if addr == "" {
				addr = ":8080"
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(handler, shared.Ping, logger).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serveUntilDone(cmd.Context(), srv, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.metrics_addr, then :8080)")
	return cmd
}
