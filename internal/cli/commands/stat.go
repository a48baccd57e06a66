package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
)

func newStatCmd() *cobra.Command {
	var contentType bool

	cmd := &cobra.Command{
		Use:   "stat <address>...",
		Short: "Show the metadata of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i, raw := range args {
				if i > 0 {
					fmt.Fprintln(out)
				}
				h, err := vfs.Resolve(ctx, raw)
				if err != nil {
					return err
				}
				rec, err := h.Record(ctx)
				if err != nil {
					return err
				}
				printRecord(out, h, rec)
				if contentType && rec.Exists && !rec.Dir {
					mt, err := h.ContentType(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Content type: %s\n", mt)
				}
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&contentType, "content-type", false, "sniff the media type of files")
	return cmd
}

func printRecord(out io.Writer, h *vfskit.Handle, rec *vfskit.Record) {
	fmt.Fprintf(out, "Address: %s\n", h)
	fmt.Fprintf(out, "Kind: %s\n", h.Kind())
	if !rec.Exists {
		fmt.Fprintln(out, "Exists: no")
		return
	}
	fmt.Fprintln(out, "Exists: yes")
	switch {
	case rec.Dir:
		fmt.Fprintln(out, "Type: directory")
	default:
		fmt.Fprintln(out, "Type: file")
		fmt.Fprintf(out, "Size: %d\n", rec.Size)
	}
	if rec.Symlink {
		fmt.Fprintf(out, "Link target: %s\n", rec.LinkTarget)
	}
	fmt.Fprintf(out, "Modified: %s\n", formatTime(rec.Modified))
	if !rec.Created.IsZero() {
		fmt.Fprintf(out, "Created: %s\n", formatTime(rec.Created))
	}
	if !rec.Accessed.IsZero() {
		fmt.Fprintf(out, "Accessed: %s\n", formatTime(rec.Accessed))
	}
	if rec.Owner != "" || rec.Group != "" {
		fmt.Fprintf(out, "Owner: %s:%s\n", rec.Owner, rec.Group)
	}
	switch rec.Attributes.Kind {
	case vfskit.AttributesPOSIX:
		fmt.Fprintf(out, "Mode: %s\n", rec.Attributes.Mode)
	case vfskit.AttributesDOS:
		fmt.Fprintf(out, "Attributes: readonly=%t hidden=%t system=%t archive=%t\n",
			rec.Attributes.ReadOnly, rec.Attributes.Hidden, rec.Attributes.System, rec.Attributes.Archive)
	}
}
