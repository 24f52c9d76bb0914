package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wikitrust/internal/app"
	collyfetcher "github.com/JakeFAU/wikitrust/internal/fetcher/colly"
	"github.com/JakeFAU/wikitrust/internal/popularity"
)

const apiKeyHeader = "x-api-key"

// newDomainsCmd groups the popularity maintenance subcommands.
func newDomainsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Maps cited links to domains and loads their popularity signal",
	}
	cmd.AddCommand(newDomainsResolveCmd(), newDomainsRefreshCmd())
	return cmd
}

func newDomainsResolveCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Maps the most-cited unmapped links to domains",
		Long: `Looks up the most-cited canonical links that have no domain mapping yet,
creates a domain row the first time a domain is seen, caches its popularity
record in blob storage, and records the link-to-domain mapping.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resolver, err := buildResolver(cmd, appInstance)
			if err != nil {
				return err
			}
			if top <= 0 {
				top = appInstance.Config().Popularity.TopLinks
			}
			summary, err := resolver.Resolve(cmd.Context(), top)
			if err != nil {
				return err
			}
			return printPopularitySummary(cmd, summary)
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "number of links to resolve (overrides popularity.top_links)")
	return cmd
}

func newDomainsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fills in popularity for domains that have none",
		Long: `Reads each domain's cached popularity record, fetching and caching it when it
is missing, and stores the parsed rank and in-link count.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resolver, err := buildResolver(cmd, appInstance)
			if err != nil {
				return err
			}
			summary, err := resolver.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return printPopularitySummary(cmd, summary)
		},
	}
}

func buildResolver(cmd *cobra.Command, appInstance *app.App) (*popularity.Resolver, error) {
	cfg := appInstance.Config()
	if cfg.Popularity.Endpoint == "" {
		return nil, fmt.Errorf("popularity.endpoint must be set")
	}
	store, err := appInstance.Store(cmd.Context())
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if cfg.Popularity.APIKey != "" {
		headers[apiKeyHeader] = cfg.Popularity.APIKey
	}
	source := &popularity.HTTPSource{
		Endpoint: cfg.Popularity.Endpoint,
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}),
		Headers: headers,
	}
	return popularity.NewResolver(store, source, appInstance.Blobs(), cfg.Storage.Prefix, appInstance.Logger()), nil
}

func printPopularitySummary(cmd *cobra.Command, s popularity.Summary) error {
	return renderTable(cmd.OutOrStdout(), []string{"Processed", "Updated", "Failed"}, [][]string{{
		fmt.Sprint(s.Processed), fmt.Sprint(s.Updated), fmt.Sprint(s.Failed),
	}})
}
