package commands

import (
	"fmt"

	"github.com/bryanchriswhite/WinOpacity/internal/control"
	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Ask a running instance to stop",
	Long: `Set "kill": true in the config file. A running instance removes the flag
and stops at its next cycle; if none is running, the next one to start
consumes the flag and exits right away.

The command returns as soon as the flag is written and does not wait for
the running instance to stop.`,
	Args: cobra.NoArgs,
	RunE: runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if err := control.RequestKill(store); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Kill requested in %s\n", store.Path())
	return nil
}
