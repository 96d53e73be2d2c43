package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/transfer"
	"github.com/vastlab/vastctl/internal/ui"
)

var cpRecursiveFlag bool

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dst>",
	Short: "Copy files to or from an instance",
	Long: `Copy a file or directory between the local machine and an instance.
Remote paths are written scp-style as 'name:path'; ':path' targets the
active instance.

Examples:
  vastctl cp ./model.yaml trainer:/workspace/
  vastctl cp trainer:/workspace/out.log ./
  vastctl cp -r ./data :/workspace/data
  vastctl cp -r trainer:/workspace/checkpoints ./checkpoints`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cpCommand(cmd.Context(), args[0], args[1])
	},
}

func init() {
	cpCmd.Flags().BoolVarP(&cpRecursiveFlag, "recursive", "r", false, "copy directories recursively")
	rootCmd.AddCommand(cpCmd)
}

func cpCommand(ctx context.Context, src, dst string) error {
	srcName, srcRemote, srcIsRemote := transfer.ParseRemote(src)
	dstName, dstRemote, dstIsRemote := transfer.ParseRemote(dst)
	if srcIsRemote == dstIsRemote {
		return errors.New(errors.ErrTransfer,
			"Exactly one side must be remote",
			"Write remote paths as 'name:path' or ':path', e.g. vastctl cp ./file trainer:/workspace/")
	}

	a, err := newProviderApp()
	if err != nil {
		return err
	}

	if dstIsRemote {
		name, err := a.resolveName(nameArg(dstName))
		if err != nil {
			return err
		}
		if err := a.transfers().Upload(ctx, name, src, dstRemote, cpRecursiveFlag); err != nil {
			return err
		}
		fmt.Printf("%s uploaded to %s:%s\n",
			ui.SuccessStyle().Render(ui.SymbolSuccess), name, dstRemote)
		return nil
	}

	name, err := a.resolveName(nameArg(srcName))
	if err != nil {
		return err
	}
	if err := a.transfers().Download(ctx, name, srcRemote, dst, cpRecursiveFlag); err != nil {
		return err
	}
	fmt.Printf("%s downloaded to %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), dst)
	return nil
}

// nameArg adapts an scp-style name ('' means active) to resolveName's
// optional positional form.
func nameArg(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}
