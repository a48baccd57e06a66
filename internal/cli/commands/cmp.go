package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
)

// ErrDifferent is returned by cmp when the contents differ.
var ErrDifferent = errors.New("contents differ")

func newCmpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cmp <a> <b>",
		Short: "Compare two files or directory trees byte by byte",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error {
			a, err := vfs.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := vfs.Resolve(ctx, args[1])
			if err != nil {
				return err
			}
			same, err := a.CompareTo(ctx, b, nil)
			if err != nil {
				return err
			}
			if !same {
				return fmt.Errorf("%s and %s: %w", a, b, ErrDifferent)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "identical")
			return nil
		}),
	}
}
