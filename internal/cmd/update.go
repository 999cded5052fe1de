package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wowkit/hoard/internal/install"
	"github.com/wowkit/hoard/internal/reconcile"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [<addon>...]",
		Short: "Update tracked addons to their latest revision",
		Long: `Update re-installs tracked addons from their recorded repositories.
Without arguments a status pass runs first and only addons reported outdated
are updated; locally modified addons are left alone until the edits are
resolved. Naming addons updates exactly those, unconditionally.

Per-addon failures are reported and the remaining addons still update; a
folder conflict or corrupt index aborts immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.ix.Backup(); err != nil {
				return err
			}

			if len(args) == 0 {
				return updateOutdated(cmd, a)
			}

			failed := 0
			for _, name := range args {
				rec, err := a.installer.Update(cmd.Context(), a.ix, name)
				if err != nil {
					if install.IsFatal(err) {
						return err
					}
					a.log.Error().Err(err).Str("addon", name).Msg("update failed")
					failed++
					continue
				}
				if !quiet {
					fmt.Printf("Updated %s to %.12s\n", rec.Name, rec.Commit)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d updates failed", failed, len(args))
			}
			return nil
		},
	}
}

// updateOutdated handles the no-argument form: reconcile first, then update
// only what the pass reported outdated.
func updateOutdated(cmd *cobra.Command, a *app) error {
	updated, skipped, err := a.installer.UpdateOutdated(cmd.Context(), a.ix, a.engine())
	if err != nil {
		return err
	}

	for _, rec := range updated {
		if !quiet {
			fmt.Printf("Updated %s to %.12s\n", rec.Name, rec.Commit)
		}
	}

	failed := 0
	for _, res := range skipped {
		if res.Status == reconcile.StatusModified {
			if !quiet {
				fmt.Printf("Skipped %s: locally modified\n", res.Name)
			}
			continue
		}
		a.log.Error().Err(res.Err).Str("addon", res.Name).Msg("not updated")
		failed++
	}

	if len(updated) == 0 && len(skipped) == 0 && !quiet {
		fmt.Println("No addons to update found.")
	}
	if failed > 0 {
		return fmt.Errorf("%d addons could not be updated", failed)
	}
	return nil
}
