// Package cmd defines and implements the CLI commands for the wikitrust executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/app"
	"github.com/JakeFAU/wikitrust/internal/config"
	"github.com/JakeFAU/wikitrust/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "wikitrust",
		Short: "Crawls encyclopedia citations and ranks cited sites by trust factor.",
		Long: `wikitrust crawls encyclopedia articles that have not been processed yet,
stores every outbound citation with its canonical site, resolves sites against an
external popularity signal, and ranks them by how far their citation volume departs
from what that popularity predicts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			// the signal context may already be canceled; shutdown still needs to run
			closeErr := appInstance.Close(context.WithoutCancel(cmd.Context()))
			_ = appInstance.Logger().Sync()
			return closeErr
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON, or TOML)")

	cmd.AddCommand(
		newCrawlCmd(),
		newMetricsCmd(),
		newConnectionsCmd(),
		newDomainsCmd(),
		newNewsCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context; crawl treats that as a drain request.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "wikitrust:", err)
		stop()
		os.Exit(1)
	}
}
