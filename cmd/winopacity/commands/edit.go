package commands

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/WinOpacity/internal/control"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in an editor",
	Long: fmt.Sprintf(`Open the config file in an editor. A running instance picks up the
changes at its next cycle.

Terminal editors are waited for, after which the edited file is checked and
any invalid pattern is reported. GUI editors are started and left running.

Known editors: %s
Use "env" for $VISUAL or $EDITOR.`, strings.Join(control.Editors(), ", ")),
	Example: `  # Open in VS Code (default)
  winopacity edit

  # Open in vim and check the result
  winopacity edit -e vim`,
	Args: cobra.NoArgs,
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringP("editor", "e", control.DefaultEditor, "editor to open the config with")
	viper.BindPFlag("editor", editCmd.Flags().Lookup("editor"))
}

func runEdit(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	return control.RequestEdit(cmd.Context(), editor, store, viper.GetString("editor"))
}
