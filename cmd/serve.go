// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/scout-cli/internal/engine"
	"github.com/xkilldash9x/scout-cli/internal/mcp"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// newServeCmd creates the `serve` command hosting the control-plane server.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control-plane HTTP server",
		Long: `Starts the long-running control-plane server. Sessions started through it
stay alive between commands, so login state survives across searches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observability.Sync()

			if err := viper.BindPFlag("server.listen_addr", cmd.Flags().Lookup("listen")); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			eng, err := engine.New(cfg, nil, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			server := mcp.NewServer(cfg, eng, logger)
			return server.Start(cmd.Context())
		},
	}

	serveCmd.Flags().String("listen", "", "listen address (host:port)")
	return serveCmd
}
