package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
)

func newLsCmd() *cobra.Command {
	var recursive, long bool
	var pattern string

	cmd := &cobra.Command{
		Use:   "ls <address>",
		Short: "List the children of a directory",
		Long: `List the children of a directory or archive.

Examples:
  vfs ls ./build
  vfs ls -r -g '**/*.class' ./build/app.jar
  vfs ls -l sftp://deploy@build.example.com/srv`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error {
			dir, err := vfs.ResolveDirectory(ctx, args[0])
			if err != nil {
				return err
			}
			selector := vfskit.All()
			if pattern != "" {
				selector = vfskit.Glob(pattern)
			}

			var handles []*vfskit.Handle
			if recursive {
				handles, err = dir.Find(ctx, selector)
			} else {
				handles, err = dir.List(ctx, selector)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			for _, h := range handles {
				rel, _ := h.Address().Relative(dir.Address())
				if !long {
					fmt.Fprintln(w, rel)
					continue
				}
				rec, err := h.Record(ctx)
				if err != nil {
					return err
				}
				kind, size := "-", fmt.Sprint(rec.Size)
				if rec.Dir {
					kind, size = "d", "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, size, formatTime(rec.Modified), rel)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list descendants")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show type, size and modification time")
	cmd.Flags().StringVarP(&pattern, "glob", "g", "", "only show paths matching the pattern")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
