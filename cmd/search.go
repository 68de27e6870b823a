// File: cmd/search.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/engine"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// newSearchCmd creates the one-shot `search` command: set the session up, run
// the search, print ranked results, tear the session down.
func newSearchCmd() *cobra.Command {
	var (
		platformName string
		site         string
		maxPages     int
		minRelevance float64
	)

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a relevance-ranked search on a platform",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observability.Sync()

			ctx := cmd.Context()
			query := args[0]
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			eng, err := engine.New(cfg, nil, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}
			// The session must come down whatever happens below, so login
			// state persists for the next run.
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := eng.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Shutdown incomplete.", zap.Error(err))
				}
			}()

			if _, err := eng.SetupBrowser(ctx, platformName, site); err != nil {
				return err
			}

			verdict, err := eng.CheckLogin(ctx, platformName, site)
			if err != nil {
				return err
			}
			switch {
			case verdict.VerificationRequired:
				logger.Warn("Verification wall detected before searching; results may be limited.",
					zap.String("reason", verdict.Reason))
			case verdict.Status == schemas.StatusLoggedOut:
				logger.Warn("Session is logged out; results may be limited.")
			}

			params := engine.SearchParams{
				Platform: platformName,
				Site:     site,
				Query:    query,
				MaxPages: maxPages,
			}
			if cmd.Flags().Changed("min-relevance") {
				params.MinRelevance = &minRelevance
			}

			report, err := eng.Search(ctx, params)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}

			if report.Reason == schemas.ReasonBlocked {
				logger.Warn("Search stopped by a verification wall; partial results shown.",
					zap.Int("pages_visited", report.PagesVisited))
			}
			return nil
		},
	}

	searchCmd.Flags().StringVarP(&platformName, "platform", "p", "wechat", "platform to search (wechat, zhihu, general)")
	searchCmd.Flags().StringVar(&site, "site", "", "optional site narrowing the profile identity")
	searchCmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum result pages to visit (0 uses the configured default)")
	searchCmd.Flags().Float64Var(&minRelevance, "min-relevance", 0, "minimum relevance score to keep a result")
	return searchCmd
}
