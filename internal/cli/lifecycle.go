package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/provider"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/internal/ui"
	"github.com/vastlab/vastctl/internal/util"
)

var (
	stopAllFlag     bool
	stopProjectFlag string
	stopYesFlag     bool
	destroyYesFlag  bool
	removeYesFlag   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Stop running instances",
	Long: `Stop the named instance (or the active one). Billing for compute
stops; storage billing continues until the instance is destroyed.
--all and --project stop every matching instance after confirmation.

Examples:
  vastctl stop
  vastctl stop trainer
  vastctl stop --all
  vastctl stop --project llm --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopCommand(cmd.Context(), args)
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [name]",
	Short: "Destroy an instance at the provider",
	Long: `Destroy the named instance (or the active one). All remote data is
lost. The local record is kept, marked destroyed, so the name's history
survives; drop it with 'vastctl remove'.

Examples:
  vastctl destroy trainer
  vastctl destroy trainer --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return destroyCommand(cmd.Context(), args)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Drop the local record without touching the provider",
	Long: `Remove the named record from the local registry. The remote
instance, if any, is untouched; use 'vastctl destroy' for that.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return removeCommand(args[0])
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopAllFlag, "all", false, "stop every running instance")
	stopCmd.Flags().StringVar(&stopProjectFlag, "project", "", "stop every running instance in the project")
	stopCmd.Flags().BoolVarP(&stopYesFlag, "yes", "y", false, "skip the confirmation prompt")
	destroyCmd.Flags().BoolVarP(&destroyYesFlag, "yes", "y", false, "skip the confirmation prompt")
	removeCmd.Flags().BoolVarP(&removeYesFlag, "yes", "y", false, "skip the confirmation prompt")

	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(removeCmd)
}

func stopCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}

	if stopAllFlag || stopProjectFlag != "" {
		if len(args) > 0 {
			return errors.New(errors.ErrConfig,
				"A name and --all/--project don't mix",
				"Name one instance, or stop a group with --all/--project.")
		}
		return stopMany(ctx, a)
	}

	name, err := a.resolveName(args)
	if err != nil {
		return err
	}
	return stopOne(ctx, a, name)
}

// stopMany stops every stoppable instance matching the flags, after a
// single confirmation.
func stopMany(ctx context.Context, a *app) error {
	records, err := a.reg.List()
	if err != nil {
		return err
	}
	targets := stopTargets(records, stopProjectFlag)
	if len(targets) == 0 {
		fmt.Println("Nothing to stop.")
		return nil
	}

	if !stopYesFlag {
		ok, err := ui.Confirm(
			fmt.Sprintf("Stop %d %s?", len(targets),
				util.Pluralize(len(targets), "instance", "instances")),
			strings.Join(targets, ", "))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var failed []string
	for _, name := range targets {
		if err := stopOne(ctx, a, name); err != nil {
			ui.PrintWarning(fmt.Sprintf("stop %s: %v", name, err))
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return errors.New(errors.ErrProvider,
			fmt.Sprintf("Couldn't stop: %s", strings.Join(failed, ", ")),
			"Run 'vastctl refresh' and retry the stragglers.")
	}
	return nil
}

// stopTargets picks the records that can be stopped: provisioned, not
// destroyed, not already stopped, optionally limited to one project.
func stopTargets(records []*registry.InstanceRecord, project string) []string {
	var names []string
	for _, rec := range records {
		if rec.RemoteID == "" || rec.Status == registry.StatusDestroyed ||
			rec.Status == registry.StatusStopped {
			continue
		}
		if project != "" && rec.Project != project {
			continue
		}
		names = append(names, rec.Name)
	}
	return names
}

func stopOne(ctx context.Context, a *app, name string) error {
	rec, err := a.reg.Get(name)
	if err != nil {
		return err
	}
	if rec.RemoteID == "" || rec.Status == registry.StatusDestroyed {
		return errors.New(errors.ErrNotRunning,
			fmt.Sprintf("Instance '%s' has nothing to stop", name),
			"It was never provisioned or is already destroyed.")
	}

	sp := ui.NewSpinner(fmt.Sprintf("Stopping '%s'", name))
	sp.Start()
	if err := a.prov.Stop(ctx, rec.RemoteID); err != nil {
		sp.Fail()
		if provider.IsNotFound(err) {
			a.rec.One(ctx, name)
		}
		return err
	}
	if a.cfg.Provider.VerifyMutations {
		if err := provider.WaitStopped(ctx, a.prov, rec.RemoteID, provider.DefaultStopWait); err != nil {
			sp.Fail()
			return err
		}
	}
	sp.Success()

	if _, err := a.rec.One(ctx, name); err != nil {
		return err
	}
	fmt.Printf("%s '%s' stopped\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name)
	return nil
}

func destroyCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}
	rec, err := a.reg.Get(name)
	if err != nil {
		return err
	}
	if rec.Status == registry.StatusDestroyed {
		fmt.Printf("'%s' is already destroyed\n", name)
		return nil
	}

	if !destroyYesFlag {
		ok, err := ui.Confirm(
			fmt.Sprintf("Destroy '%s'?", name),
			"All data on the instance will be lost. This cannot be undone.")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if rec.RemoteID == "" {
		// Never provisioned; nothing remote to tear down.
		if err := a.reg.MarkDestroyed(name); err != nil {
			return err
		}
		fmt.Printf("%s '%s' destroyed (no remote instance existed)\n",
			ui.SuccessStyle().Render(ui.SymbolSuccess), name)
		return nil
	}

	sp := ui.NewSpinner(fmt.Sprintf("Destroying '%s'", name))
	sp.Start()
	if err := a.prov.Destroy(ctx, rec.RemoteID); err != nil && !provider.IsNotFound(err) {
		sp.Fail()
		return err
	}
	if a.cfg.Provider.VerifyMutations {
		if err := provider.WaitGone(ctx, a.prov, rec.RemoteID, provider.DefaultStopWait); err != nil {
			sp.Fail()
			// The record stays so a later reconcile can resolve what
			// actually happened.
			return errors.WrapWithCode(err, errors.ErrProvider,
				fmt.Sprintf("Couldn't confirm '%s' was destroyed", name),
				"The record is kept. Run 'vastctl refresh' to re-check.")
		}
	}
	sp.Success()

	if err := a.reg.MarkDestroyed(name); err != nil {
		return err
	}
	fmt.Printf("%s '%s' destroyed\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name)
	return nil
}

func removeCommand(name string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	rec, err := a.reg.Get(name)
	if err != nil {
		return err
	}

	if rec.Status == registry.StatusRunning && !removeYesFlag {
		ok, err := ui.Confirm(
			fmt.Sprintf("'%s' still looks running. Remove the local record anyway?", name),
			"The remote instance keeps running and billing; only the local name is dropped.")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := a.reg.Remove(name); err != nil {
		return err
	}
	fmt.Printf("%s removed local record '%s'\n", ui.SuccessStyle().Render(ui.SymbolSuccess), name)
	return nil
}
