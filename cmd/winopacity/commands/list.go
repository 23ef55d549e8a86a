package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bryanchriswhite/WinOpacity/internal/opacity"
	"github.com/bryanchriswhite/WinOpacity/internal/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List windows and the opacity each would receive",
	Long: `List the windows the backend can see, together with the rule that
matches each title and the resulting opacity. Nothing is applied and the
kill flag is left alone.`,
	Example: `  # List windows in table format (default)
  winopacity list

  # List only windows matched by a rule, as JSON
  winopacity list --matched --format json

  # List windows as YAML
  winopacity list -f yaml`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listFormat  string
	listMatched bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json or yaml)")
	listCmd.Flags().BoolVarP(&listMatched, "matched", "m", false, "show only windows matched by a rule")
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	source, err := newSource(viper.GetString("backend"))
	if err != nil {
		return fmt.Errorf("failed to connect to window system: %w", err)
	}
	defer source.Close()

	plan, err := poller.New(store, source, poller.Options{}).Preview(cmd.Context())
	if err != nil {
		return err
	}

	if listMatched {
		filtered := make([]opacity.Assignment, 0, len(plan))
		for _, a := range plan {
			if a.Matched {
				filtered = append(filtered, a)
			}
		}
		plan = filtered
	}

	out := cmd.OutOrStdout()
	switch listFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(plan)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(plan)
	case "table":
		return printPlanTable(out, plan)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table', 'json' or 'yaml')", listFormat)
	}
}

func printPlanTable(out io.Writer, plan []opacity.Assignment) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tOPACITY\tRULE\tTITLE")
	fmt.Fprintln(w, "--\t-------\t----\t-----")

	for _, a := range plan {
		opacity, rule := "-", "-"
		if a.Matched {
			opacity = fmt.Sprintf("%.2f", a.Opacity)
			rule = fmt.Sprintf("%d", a.Rule+1)
		}
		fmt.Fprintf(w, "0x%x\t%s\t%s\t%s\n", a.Window.ID, opacity, rule, a.Window.Title)
	}

	return nil
}
