// Package cmd contains the CLI command implementations.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	addonsDir    string
	configPath   string
	outputFormat string
	verbose      bool
	quiet        bool
)

// hoardVersion is the build version, set by Execute.
var hoardVersion string

func Execute(version, commit, date string) error {
	hoardVersion = version

	rootCmd := &cobra.Command{
		Use:   "hoard",
		Short: "Git-backed addon management for your AddOns directory",
		Long: `hoard installs addons from git repositories into an addon directory and
tracks what it installed.

Every tracked addon is checked against its remote repository and the local
folder contents, so hoard status can tell apart pristine, locally modified,
outdated and untracked addons.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&addonsDir, "addons-dir", "d", "", "Path to the addon directory (default: config file or current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to hoard config file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd(commit, date))
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd.Execute()
}
