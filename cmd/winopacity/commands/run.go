package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/WinOpacity/internal/api"
	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/bryanchriswhite/WinOpacity/internal/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply opacity rules until killed",
	Long: `Apply the opacity rules from the config file to every window, then keep
re-applying them every pollInMilliseconds. With no positive interval the
rules are applied once and the command exits.

The loop stops when the config file carries "kill": true (see
"winopacity kill"), when it is interrupted, or when the config file can no
longer be read. This is also what "winopacity" does with no subcommand.`,
	Example: `  # Apply rules from the default config file
  winopacity

  # Use another config file and the KWin backend
  winopacity run --config ~/opacity.json --backend kwin

  # Re-apply as soon as the file is saved and serve status on :8089
  winopacity run --watch --listen :8089`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("watch", false, "run a cycle as soon as the config file changes")
	runCmd.Flags().String("listen", "", "serve a read-only status API on this address (e.g. :8089)")

	viper.BindPFlag("watch", runCmd.Flags().Lookup("watch"))
	viper.BindPFlag("listen", runCmd.Flags().Lookup("listen"))

	// Bare "winopacity" runs the loop and takes the same flags
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("run")

	store, err := openStore()
	if err != nil {
		return err
	}

	source, err := newSource(viper.GetString("backend"))
	if err != nil {
		return fmt.Errorf("failed to connect to window system: %w", err)
	}
	defer source.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := poller.New(store, source, poller.Options{Watch: viper.GetBool("watch")})

	if addr := viper.GetString("listen"); addr != "" {
		server := api.NewServer(p)
		if err := server.Start(addr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Status server shutdown failed")
			}
		}()
	}

	return p.Run(ctx)
}
