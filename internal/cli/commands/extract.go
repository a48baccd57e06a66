package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
)

func newExtractCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "extract <archive> [target]",
		Short: "Extract an archive or list its entries",
		Long: `Extract a zip, tar, 7z or arj archive into a target directory.

Examples:
  vfs extract ./build.zip ./out
  vfs extract --list ./release.tar.gz`,
		Args: cobra.RangeArgs(1, 2),
		RunE: withSession(func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error {
			arc, err := vfs.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			if list {
				entries, err := arc.ListArchive(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				defer w.Flush()
				for _, e := range entries {
					size := fmt.Sprint(e.Size)
					if e.Dir {
						size = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", size, formatTime(e.Modified), e.FullPath())
				}
				return nil
			}

			if len(args) < 2 {
				return fmt.Errorf("target directory required")
			}
			target, err := vfs.ResolveDirectory(ctx, args[1])
			if err != nil {
				return err
			}
			handles, err := arc.Extract(ctx, target)
			if err != nil {
				return err
			}
			for _, h := range handles {
				rel, _ := h.Address().Relative(target.Address())
				fmt.Fprintln(cmd.OutOrStdout(), rel)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list entries instead of extracting")
	return cmd
}
