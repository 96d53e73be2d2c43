package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/internal/ui"
	"github.com/vastlab/vastctl/internal/util"
)

var (
	listAllFlag     bool
	listProjectFlag string
	listOfflineFlag bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	Long: `List registered instances. Reconciles against the provider first
unless --offline is given. Destroyed records are hidden unless --all.

Examples:
  vastctl list
  vastctl list --all
  vastctl list --project llm --offline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCommand(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show one instance in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(cmd.Context(), args)
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listAllFlag, "all", "a", false, "include destroyed records")
	listCmd.Flags().StringVar(&listProjectFlag, "project", "", "filter by project")
	listCmd.Flags().BoolVar(&listOfflineFlag, "offline", false, "skip provider reconciliation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
}

func listCommand(ctx context.Context) error {
	var (
		a   *app
		err error
	)
	if listOfflineFlag {
		a, err = newApp()
	} else {
		a, err = newProviderApp()
	}
	if err != nil {
		return err
	}

	if !listOfflineFlag {
		if _, err := a.rec.All(ctx); err != nil {
			return err
		}
	}

	records, err := a.reg.List()
	if err != nil {
		return err
	}
	active, _ := a.reg.Active()

	var rows [][]string
	for _, rec := range records {
		if !listAllFlag && rec.Status == registry.StatusDestroyed {
			continue
		}
		if listProjectFlag != "" && rec.Project != listProjectFlag {
			continue
		}
		name := rec.Name
		if rec.Name == active {
			name += " *"
		}
		rows = append(rows, []string{
			name,
			ui.StatusBadge(string(rec.Status)),
			describeHardware(rec),
			endpointString(rec),
			rec.Project,
			ageString(rec.CreatedAt),
		})
	}

	if len(rows) == 0 {
		fmt.Println("No instances. Provision one with: vastctl start <name>")
		return nil
	}

	fmt.Println(ui.RenderTable([]ui.TableColumn{
		{Title: "NAME", Width: 16},
		{Title: "STATUS", Width: 14},
		{Title: "HARDWARE", Width: 14},
		{Title: "ENDPOINT", Width: 22},
		{Title: "PROJECT", Width: 10},
		{Title: "AGE", Width: 8},
	}, rows))
	return nil
}

func statusCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}
	rec, err := a.rec.One(ctx, name)
	if err != nil {
		return err
	}

	muted := ui.MutedStyle()
	fmt.Printf("%s  %s\n", rec.Name, ui.StatusBadge(string(rec.Status)))
	fmt.Printf("  %s %s\n", muted.Render("remote id:"), orDefaultStr(rec.RemoteID, "(unbound)"))
	fmt.Printf("  %s %s\n", muted.Render("endpoint: "), endpointString(rec))
	fmt.Printf("  %s %s\n", muted.Render("hardware: "), describeHardware(rec))
	fmt.Printf("  %s %s\n", muted.Render("image:    "), rec.Image)
	fmt.Printf("  %s %s\n", muted.Render("project:  "), rec.Project)
	fmt.Printf("  %s %s\n", muted.Render("tags:     "), util.JoinOrNone(rec.Tags))
	fmt.Printf("  %s %d\n", muted.Render("generation:"), rec.Generation)
	fmt.Printf("  %s %s\n", muted.Render("created:  "), rec.CreatedAt.Local().Format(time.RFC1123))
	if !rec.LastSyncedAt.IsZero() {
		fmt.Printf("  %s %s ago\n", muted.Render("synced:   "), ageString(rec.LastSyncedAt))
	}
	return nil
}

func describeHardware(rec *registry.InstanceRecord) string {
	if rec.GPUType == "" {
		return fmt.Sprintf("CPU, %dGB disk", rec.DiskGB)
	}
	return fmt.Sprintf("%dx %s", rec.GPUCount, rec.GPUType)
}

// ageString formats the elapsed time since t coarsely (2m, 3h, 5d).
func ageString(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
