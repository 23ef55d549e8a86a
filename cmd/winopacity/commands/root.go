package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/control"
	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/bryanchriswhite/WinOpacity/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Platform hooks, replaced in tests
var (
	newSource                = window.NewSource
	editor    control.Editor = control.NewLauncher()
)

var (
	logCloser io.Closer
	rootCmd   = &cobra.Command{
		Use:   "winopacity",
		Short: "WinOpacity - Per-window opacity from title patterns",
		Long: `WinOpacity sets the opacity of desktop windows whose titles match
regex patterns in a JSON config file, re-applying the rules on an interval.

A running instance is controlled through the same file: "winopacity kill"
sets a flag that the running loop consumes before stopping.

Features:
  • Ordered title patterns, first match wins
  • X11 (_NET_WM_WINDOW_OPACITY) and KDE Wayland (KWin scripting) backends
  • Config rewrites keep the file's indentation and unknown keys
  • Optional read-only status API`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
		RunE:              runRun,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "opacity config file (default is $HOME/.config/winopacity/config.json)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also append log output to this file; run defaults to $HOME/.cache/winopacity/winopacity.log, \"-\" disables")
	flags.Bool("pretty", true, "human-readable console logs")
	flags.String("backend", "auto", "window backend (auto, x11, kwin)")

	// Bind flags to viper
	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))
	viper.BindPFlag("pretty", flags.Lookup("pretty"))
	viper.BindPFlag("backend", flags.Lookup("backend"))
}

func initConfig() {
	viper.SetEnvPrefix("WINOPACITY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	closer, err := logger.Init(logger.Options{
		Level:  viper.GetString("log_level"),
		Pretty: viper.GetBool("pretty"),
		File:   logFile(cmd),
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

// logFile returns the log file for cmd. The poll loop runs unattended, so it
// logs to the user cache directory unless a file is configured. "-" disables
// the file.
func logFile(cmd *cobra.Command) string {
	path := viper.GetString("log_file")
	if path == "-" {
		return ""
	}
	runsLoop := cmd.Name() == "run" || !cmd.HasParent()
	if path != "" || !runsLoop {
		return path
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "winopacity", "winopacity.log")
}

// openStore returns the store for the configured opacity file
func openStore() (*config.Store, error) {
	path := viper.GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return config.NewStore(nil, path), nil
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
