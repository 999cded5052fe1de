package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "install <url>",
		Short: "Install addons from a git repository",
		Long: `Install clones the repository, locates its addon folders and copies them
into the addon directory. The installed revision and a content checksum are
recorded so later status checks can detect local edits and remote updates.

A repository bundling several addons installs as a single tracked entry
owning all of its folders. Pass --branch (or a browser URL pointing at a
branch, e.g. .../repo/tree/main) to track a branch other than the remote
default.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.ix.Backup(); err != nil {
				return err
			}

			rec, err := a.installer.Install(cmd.Context(), a.ix, args[0], branch)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Installed %s (%s) at %.12s\n",
					rec.Name, strings.Join(rec.Folders, ", "), rec.Commit)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to track instead of the remote default")
	return cmd
}
