package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/reconcile"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/internal/ui"
	"github.com/vastlab/vastctl/internal/util"
)

var (
	updateProjectFlag    string
	updateAddTagsFlag    []string
	updateRemoveTagsFlag []string
)

var useCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active instance",
	Long: `Set the active instance. Commands taking an optional name fall back
to the active instance when none is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return useCommand(args[0])
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reconcile all records against the provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		return refreshCommand(cmd.Context())
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Change an instance's project or tags",
	Long: `Update the mutable fields of a record. Hardware descriptors are
frozen at creation; only project and tags can change.

Examples:
  vastctl update trainer --project llm
  vastctl update trainer --add-tag experiment --remove-tag scratch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateCommand(args[0])
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateProjectFlag, "project", "", "set the project")
	updateCmd.Flags().StringSliceVar(&updateAddTagsFlag, "add-tag", nil, "add a tag (repeatable)")
	updateCmd.Flags().StringSliceVar(&updateRemoveTagsFlag, "remove-tag", nil, "remove a tag (repeatable)")

	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(updateCmd)
}

func useCommand(name string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.reg.Use(name); err != nil {
		return err
	}
	fmt.Printf("%s active instance is now '%s'\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name)
	return nil
}

func refreshCommand(ctx context.Context) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}

	var result *reconcile.Result
	if err := ui.RunSpinner("Reconciling with provider", func() error {
		var err error
		result, err = a.rec.All(ctx)
		return err
	}); err != nil {
		return err
	}

	fmt.Printf("  synced: %s\n", util.JoinOrNone(result.Synced))
	if len(result.Bound) > 0 {
		fmt.Printf("  bound: %s\n", util.JoinOrDefault(result.Bound, ""))
	}
	if len(result.Unreachable) > 0 {
		ui.PrintWarning(fmt.Sprintf("unreachable: %s", util.JoinOrDefault(result.Unreachable, "")))
	}
	if len(result.Destroyed) > 0 {
		fmt.Printf("  destroyed remotely: %s\n", util.JoinOrDefault(result.Destroyed, ""))
	}
	for _, c := range result.Collisions {
		ui.PrintWarning(fmt.Sprintf("label '%s' matches %d remote instances (%s); bind unresolved",
			c.Name, len(c.RemoteIDs), util.JoinOrDefault(c.RemoteIDs, "")))
	}
	return nil
}

func updateCommand(name string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	rec, err := a.reg.Get(name)
	if err != nil {
		return err
	}

	patch := registry.Patch{}
	if updateProjectFlag != "" {
		patch.Project = &updateProjectFlag
	}
	if len(updateAddTagsFlag) > 0 || len(updateRemoveTagsFlag) > 0 {
		tags := mergeTags(rec.Tags, updateAddTagsFlag, updateRemoveTagsFlag)
		patch.Tags = &tags
	}
	if patch.Project == nil && patch.Tags == nil {
		return errors.New(errors.ErrConfig,
			"Nothing to update",
			"Pass --project, --add-tag, or --remove-tag.")
	}

	updated, err := a.reg.Update(name, patch)
	if err != nil {
		return err
	}
	fmt.Printf("%s '%s' updated (project: %s, tags: %s)\n",
		ui.SuccessStyle().Render(ui.SymbolSuccess),
		name, updated.Project, util.JoinOrNone(updated.Tags))
	return nil
}

// mergeTags applies additions then removals, deduplicating and keeping
// the existing order.
func mergeTags(current, add, remove []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string{}, current...), add...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	dropped := make(map[string]bool)
	for _, t := range remove {
		dropped[t] = true
	}
	var final []string
	for _, t := range out {
		if !dropped[t] {
			final = append(final, t)
		}
	}
	if final == nil {
		final = []string{}
	}
	return final
}
