package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
)

func newSumCmd() *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "sum <address>...",
		Short: "Print checksums of files",
		Long:  "Print checksums of files in the format of sha256sum.\n\nSupported algorithms: " + algorithmList() + ".",
		Args:  cobra.MinimumNArgs(1),
		RunE:  withSession(func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				h, err := vfs.Resolve(ctx, raw)
				if err != nil {
					return err
				}
				sum, err := h.Checksum(ctx, vfskit.ChecksumAlgorithm(algorithm))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, h)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", string(vfskit.ChecksumSHA256), "checksum algorithm")
	return cmd
}

func algorithmList() string {
	names := make([]string, 0, len(vfskit.ChecksumAlgorithms()))
	for _, a := range vfskit.ChecksumAlgorithms() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
