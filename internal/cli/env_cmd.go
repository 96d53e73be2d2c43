package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/env"
	"github.com/vastlab/vastctl/internal/ui"
	"github.com/vastlab/vastctl/internal/util"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Detect and forward credential variables",
}

var envShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List detected credential variable names",
	Long: `Scan the local environment for variables matching the configured
credential prefixes. Only names are printed, never values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return envShowCommand()
	},
}

var envInjectCmd = &cobra.Command{
	Use:   "inject [name]",
	Short: "Inject detected credentials into an instance",
	Long: `Deliver the detected credential variables to the instance over SSH.
Values never go through the provider API. Delivery is confirmed by a
checksum read-back; on mismatch the remote state is reported unknown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return envInjectCommand(cmd.Context(), args)
	},
}

func init() {
	envCmd.AddCommand(envShowCmd)
	envCmd.AddCommand(envInjectCmd)
	rootCmd.AddCommand(envCmd)
}

func envShowCommand() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	vars := env.Detect(a.cfg.Env.Prefixes)
	if len(vars) == 0 {
		fmt.Printf("No credential variables detected (prefixes: %s)\n",
			util.JoinOrNone(a.cfg.Env.Prefixes))
		return nil
	}
	fmt.Printf("%d credential %s detected:\n", len(vars),
		util.Pluralize(len(vars), "variable", "variables"))
	for _, name := range env.Names(vars) {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func envInjectCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}

	vars := env.Detect(a.cfg.Env.Prefixes)
	if len(vars) == 0 {
		fmt.Println("No credential variables detected; nothing to inject.")
		return nil
	}

	sp := ui.NewSpinner(fmt.Sprintf("Injecting %d variables into '%s'", len(vars), name))
	sp.Start()
	if err := a.injector().Inject(ctx, name, vars); err != nil {
		sp.Fail()
		return err
	}
	sp.Success()
	return nil
}
