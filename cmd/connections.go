package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/ranking"
)

// newConnectionsCmd creates the 'connections' subcommand, which lists news
// domains that are cited together on the same page.
func newConnectionsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Lists news-site pairs cited on the same pages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, err := appInstance.Store(cmd.Context())
			if err != nil {
				return err
			}
			pages, err := store.NewsDomainsByPage(cmd.Context())
			if err != nil {
				return err
			}
			links := ranking.Connections(ranking.CoOccurrence(pages))
			appInstance.Logger().Info("connections computed",
				zap.Int("pages", len(pages)), zap.Int("pairs", len(links)))

			if top > 0 && len(links) > top {
				links = links[:top]
			}
			rows := make([][]string, 0, len(links))
			for _, l := range links {
				rows = append(rows, []string{l.Source, l.Target, strconv.Itoa(l.Value)})
			}
			return renderTable(cmd.OutOrStdout(), []string{"Source", "Target", "Pages"}, rows)
		},
	}
	cmd.Flags().IntVar(&top, "top", 25, "number of pairs to print; 0 prints all")
	return cmd
}
