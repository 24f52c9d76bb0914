package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newNewsCmd creates the 'news' subcommand, which replaces the set of domains
// flagged as news sites with the contents of a list file.
func newNewsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Flags the domains listed in a file as news sites",
		Long: `Reads one domain per line (blank lines and lines starting with # are ignored),
clears every existing news flag, and flags the listed domains in one transaction.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open news list: %w", err)
			}
			defer f.Close()

			domains, err := readDomainList(f)
			if err != nil {
				return err
			}
			store, err := appInstance.Store(cmd.Context())
			if err != nil {
				return err
			}
			n, err := store.FlagNewsDomains(cmd.Context(), domains)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("news domains flagged",
				zap.Int("listed", len(domains)), zap.Int64("flagged", n))
			fmt.Fprintf(cmd.OutOrStdout(), "flagged %d of %d listed domains\n", n, len(domains))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the news domain list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readDomainList(r io.Reader) ([]string, error) {
	var domains []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read news list: %w", err)
	}
	return domains, nil
}
