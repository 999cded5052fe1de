package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("hoard version %s\n", hoardVersion)
			if verbose {
				fmt.Printf("commit: %s\nbuilt:  %s\n", commit, date)
			}
			return nil
		},
	}
}
