package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/config"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/identity"
	"github.com/vastlab/vastctl/internal/ui"
)

var initForceFlag bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vastctl config file",
	Long: `Write a config file with defaults under $VASTCTL_HOME (default
~/.vastctl) and set up the installation identity.

The provider API key is read from VAST_API_KEY and never written to
disk when the variable is set.

Examples:
  vastctl init
  vastctl init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand()
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForceFlag, "force", "f", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

func initCommand() error {
	home := config.HomeDir()
	path := filepath.Join(home, config.ConfigFileName)

	if _, err := os.Stat(path); err == nil && !initForceFlag {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Config already exists at %s", path),
			"Pass --force to overwrite it.")
	}

	cfg := config.DefaultConfig()
	cfg.Home = home
	keyFromEnv := os.Getenv("VAST_API_KEY") != ""
	if err := config.WriteFile(cfg, path, keyFromEnv); err != nil {
		return err
	}

	id, err := identity.InstallationID(home)
	if err != nil {
		return err
	}

	fmt.Printf("%s wrote %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), path)
	fmt.Printf("  installation: %s\n", identity.ShortID(id))
	if !keyFromEnv {
		ui.PrintWarning("no VAST_API_KEY in the environment; set it or add provider.api_key to the config")
	}
	return nil
}
