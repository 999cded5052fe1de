package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wowkit/hoard/internal/output"
	"github.com/wowkit/hoard/internal/reconcile"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every tracked addon",
		Long: `Status checks each tracked addon concurrently: local folder contents are
compared against the checksum captured at install time, and pristine addons
are compared against the remote repository head.

Folders under the addon directory that no tracked addon owns are reported as
untracked. Up-to-date addons are folded into a summary line unless --verbose
is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			format, err := output.ParseFormat(outputFormat)
			if err != nil {
				return err
			}

			results, err := a.engine().Run(cmd.Context(), a.ix)
			if err != nil {
				return err
			}

			if format == output.FormatText {
				if err := output.StatusTable(os.Stdout, results, verbose); err != nil {
					return err
				}
			} else {
				if err := output.NewWriter(os.Stdout, format).Write(results); err != nil {
					return err
				}
			}

			// Individual check failures are reported inline; only a pass
			// where every check failed is a command failure.
			if reconcile.AllFailed(results) {
				return fmt.Errorf("all addon checks failed")
			}
			return nil
		},
	}
}
