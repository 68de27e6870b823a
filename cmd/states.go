// File: cmd/states.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/statestore"
)

// newStatesCmd groups the persisted-state maintenance commands.
func newStatesCmd() *cobra.Command {
	statesCmd := &cobra.Command{
		Use:   "states",
		Short: "Inspect and manage persisted session states",
	}
	statesCmd.AddCommand(newStatesListCmd(), newStatesClearCmd())
	return statesCmd
}

func newStatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted profile states",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observability.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := statestore.New(cfg.State.Dir, observability.GetLogger())
			if err != nil {
				return err
			}

			states, err := store.List()
			if err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Println("No persisted states.")
				return nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(states)
		},
	}
}

func newStatesClearCmd() *cobra.Command {
	var site string

	clearCmd := &cobra.Command{
		Use:   "clear [platform]",
		Short: "Delete the persisted state and profile directory for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observability.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := statestore.New(cfg.State.Dir, observability.GetLogger())
			if err != nil {
				return err
			}

			profileID := statestore.ProfileID(args[0], site)
			if err := store.Clear(profileID); err != nil {
				return err
			}
			fmt.Printf("Cleared state for profile %s.\n", profileID)
			return nil
		},
	}

	clearCmd.Flags().StringVar(&site, "site", "", "optional site narrowing the profile identity")
	return clearCmd
}
