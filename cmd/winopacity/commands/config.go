package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and adjust the config file",
	Long:  `View the opacity config file and change its poll interval.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the rules, poll interval and kill flag from the config file.`,
	Example: `  # Show configuration as YAML (default)
  winopacity config show

  # Show configuration as JSON
  winopacity config show --format json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configIntervalCmd = &cobra.Command{
	Use:   "interval MILLISECONDS",
	Short: "Set the poll interval",
	Long: `Set pollInMilliseconds in the config file. Zero or a negative value makes
the next run apply the rules once and exit.`,
	Example: `  # Re-apply every two seconds
  winopacity config interval 2000

  # Apply once per run
  winopacity config interval 0`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigInterval,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configIntervalCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
		return encoder.Encode(doc.Config)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(doc.Config)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigInterval(cmd *cobra.Command, args []string) error {
	ms, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid interval: %s", args[0])
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return err
	}

	if err := doc.SetPollInterval(ms); err != nil {
		return err
	}
	if err := store.Save(doc.Raw, doc); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if ms <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Poll interval cleared: rules are applied once per run")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Poll interval set to %gms\n", ms)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), store.Path())
	return nil
}
