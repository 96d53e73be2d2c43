package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/ui"
)

var (
	backupIncludeFlag []string
	restoreFileFlag   string
	restoreLatestFlag bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive and restore workspace contents",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Archive the instance workspace locally",
	Long: `Stream a tar.gz of the matching workspace paths to the local backup
directory. Failed transfers leave nothing behind.

Examples:
  vastctl backup create trainer
  vastctl backup create trainer --include "checkpoints/*.pt" --include "*.yaml"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return backupCreateCommand(cmd.Context(), args)
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List local backups for an instance",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return backupListCommand(args)
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [name]",
	Short: "Extract a backup into the instance workspace",
	Long: `Stream a local backup archive into the instance workspace. Defaults
to the newest archive for the name; pick one with --file.

Examples:
  vastctl backup restore trainer --latest
  vastctl backup restore trainer --file ~/.vastctl/backups/trainer_20260301_120000.tar.gz`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return backupRestoreCommand(cmd.Context(), args)
	},
}

func init() {
	backupCreateCmd.Flags().StringSliceVar(&backupIncludeFlag, "include", nil, "include pattern (repeatable, defaults from config)")
	backupRestoreCmd.Flags().StringVar(&restoreFileFlag, "file", "", "archive path to restore")
	backupRestoreCmd.Flags().BoolVar(&restoreLatestFlag, "latest", false, "restore the newest archive (default)")
	backupRestoreCmd.MarkFlagsMutuallyExclusive("file", "latest")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	rootCmd.AddCommand(backupCmd)
}

func backupCreateCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}

	sp := ui.NewSpinner(fmt.Sprintf("Backing up '%s'", name))
	sp.Start()
	artifact, err := a.backups.Create(ctx, name, backupIncludeFlag)
	if err != nil {
		sp.Fail()
		return err
	}
	sp.Success()

	fmt.Printf("%s %s (%s)\n", ui.SuccessStyle().Render(ui.SymbolSuccess),
		artifact.Path, sizeString(artifact.SizeBytes))
	return nil
}

func backupListCommand(args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}

	artifacts, err := a.backupsOffline().List(name)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Printf("No backups for '%s'. Create one with: vastctl backup create %s\n", name, name)
		return nil
	}

	var rows [][]string
	for _, art := range artifacts {
		rows = append(rows, []string{
			art.CreatedAt.Format(time.RFC822),
			sizeString(art.SizeBytes),
			art.Path,
		})
	}
	fmt.Println(ui.RenderTable([]ui.TableColumn{
		{Title: "CREATED", Width: 20},
		{Title: "SIZE", Width: 10},
		{Title: "PATH", Width: 58},
	}, rows))
	return nil
}

func backupRestoreCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}

	sp := ui.NewSpinner(fmt.Sprintf("Restoring '%s'", name))
	sp.Start()
	if err := a.backups.Restore(ctx, name, restoreFileFlag); err != nil {
		sp.Fail()
		return err
	}
	sp.Success()
	return nil
}

func sizeString(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
