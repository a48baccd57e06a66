package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
)

func newCpCmd() *cobra.Command {
	var progress bool

	cmd := &cobra.Command{
		Use:   "cp <source> <target>",
		Short: "Copy a file or directory tree",
		Long: `Copy a file or directory tree between any two addresses.

When the target is an existing directory the source is copied into it.

Examples:
  vfs cp ./dist sftp://deploy@web.example.com/var/www/
  vfs cp https://example.com/release.tar.gz ./downloads/`,
		Args: cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error {
			src, err := vfs.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			dst, err := vfs.Resolve(ctx, args[1])
			if err != nil {
				return err
			}

			var l vfskit.Listener = vfskit.NopListener{}
			if progress {
				out := cmd.ErrOrStderr()
				l = vfskit.ListenerFuncs{
					OnChunk: func(total, chunk, soFar int64) {
						if soFar == total || total < 0 {
							fmt.Fprintf(out, "%d bytes\n", soFar)
						}
					},
				}
			}

			isDir, err := dst.IsDir(ctx)
			if err != nil {
				return err
			}
			if isDir {
				target, err := dst.Add(ctx, src, l)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), target)
				return nil
			}
			if err := src.CopyTo(ctx, dst, l); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dst)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "report bytes copied per file")
	return cmd
}
