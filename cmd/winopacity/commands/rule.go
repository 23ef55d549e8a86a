package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
	"github.com/bryanchriswhite/WinOpacity/internal/rules"
	"github.com/spf13/cobra"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage opacity rules",
	Long: `Add, remove or list the title patterns in the config file.

Rules are tried in order and the first pattern that matches a window title
sets its opacity.`,
}

var ruleAddCmd = &cobra.Command{
	Use:   "add PATTERN OPACITY",
	Short: "Add an opacity rule",
	Long: `Add a regex title pattern with the opacity (0 to 1) to apply. A rule with
the same pattern is updated in place; otherwise the rule is appended, or
put first with --first.`,
	Example: `  # Make Chrome windows 80% opaque
  winopacity rule add "Chrome" 0.8

  # Take precedence over the existing rules
  winopacity rule add --first "^Terminal" 0.9`,
	Args: cobra.ExactArgs(2),
	RunE: runRuleAdd,
}

var ruleRemoveCmd = &cobra.Command{
	Use:   "remove PATTERN",
	Short: "Remove an opacity rule",
	Long:  `Remove the rule with exactly this pattern.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRuleRemove,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List opacity rules",
	Long:  `Display the configured rules in match order.`,
	Args:  cobra.NoArgs,
	RunE:  runRuleList,
}

var ruleFirst bool

func init() {
	rootCmd.AddCommand(ruleCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleListCmd)

	ruleAddCmd.Flags().BoolVar(&ruleFirst, "first", false, "insert the rule before all others")
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	rule := config.OpacityRule{Pattern: args[0]}

	var err error
	if rule.Opacity, err = strconv.ParseFloat(args[1], 64); err != nil || rule.Opacity < 0 || rule.Opacity > 1 {
		return fmt.Errorf("invalid opacity: %s (use a number from 0 to 1)", args[1])
	}

	// Validate regex
	if _, errs := rules.Compile([]config.OpacityRule{rule}); len(errs) > 0 {
		return errs[0]
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return err
	}

	updated := false
	list := append([]config.OpacityRule{}, doc.Config.Windows...)
	for i := range list {
		if list[i].Pattern == rule.Pattern {
			list[i].Opacity = rule.Opacity
			updated = true
			break
		}
	}
	if !updated {
		if ruleFirst {
			list = append([]config.OpacityRule{rule}, list...)
		} else {
			list = append(list, rule)
		}
	}

	if err := saveRules(store, doc, list); err != nil {
		return err
	}

	verb := "Added"
	if updated {
		verb = "Updated"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s rule: %s → %g\n", verb, rule.Pattern, rule.Opacity)
	return nil
}

func runRuleRemove(cmd *cobra.Command, args []string) error {
	pattern := args[0]

	store, err := openStore()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return err
	}

	list := make([]config.OpacityRule, 0, len(doc.Config.Windows))
	for _, r := range doc.Config.Windows {
		if r.Pattern != pattern {
			list = append(list, r)
		}
	}
	if len(list) == len(doc.Config.Windows) {
		return fmt.Errorf("rule not found: %s", pattern)
	}

	if err := saveRules(store, doc, list); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed rule: %s\n", pattern)
	return nil
}

func runRuleList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	doc, err := store.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Opacity Rules:")
	if len(doc.Config.Windows) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}

	_, errs := rules.Compile(doc.Config.Windows)
	invalid := make(map[int]bool, len(errs))
	for _, err := range errs {
		var invalidErr *rules.InvalidPatternError
		if errors.As(err, &invalidErr) {
			invalid[invalidErr.Index] = true
		}
	}

	for i, r := range doc.Config.Windows {
		note := ""
		if invalid[i] {
			note = "  (invalid, skipped)"
		}
		fmt.Fprintf(out, "  %d. %s → %g%s\n", i+1, r.Pattern, r.Opacity, note)
	}
	return nil
}

func saveRules(store *config.Store, doc *config.Document, list []config.OpacityRule) error {
	if err := doc.SetRules(list); err != nil {
		return err
	}
	if err := store.Save(doc.Raw, doc); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
