// Package commands implements the vfs command line tool.
package commands

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gobeaver/vfskit"
	_ "github.com/gobeaver/vfskit/driver/all"
)

var version = "dev"

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	version = v
}

type runFunc func(ctx context.Context, vfs *vfskit.Context, cmd *cobra.Command, args []string) error

// withSession opens a Context configured from the environment for the
// duration of one command.
func withSession(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := vfskit.GetConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := logrus.New()
		log.SetOutput(cmd.ErrOrStderr())
		if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			log.SetLevel(lvl)
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		vfs, err := vfskit.New(vfskit.WithConfig(cfg), vfskit.WithLogger(log))
		if err != nil {
			return err
		}
		defer vfs.Close()
		return fn(cmd.Context(), vfs, cmd, args)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vfs",
		Short:         "Inspect and copy files across local disk, SFTP, FTP, HTTP, S3 and archives",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("vfs version {{.Version}}\n")
	root.PersistentFlags().BoolP("verbose", "v", false, "log debug output")

	root.AddCommand(
		newLsCmd(),
		newStatCmd(),
		newCpCmd(),
		newCmpCmd(),
		newSumCmd(),
		newExtractCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
