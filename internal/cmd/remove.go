package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <addon>",
		Short: "Remove a tracked addon and delete its folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.ix.Backup(); err != nil {
				return err
			}

			if err := a.installer.Remove(a.ix, args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Removed %s\n", args[0])
			}
			return nil
		},
	}
}
