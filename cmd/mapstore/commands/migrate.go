package commands

import (
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

// NewMigrateCmd creates a new migrate command
func NewMigrateCmd(newOpts OptsFactory) *cobra.Command {
	var dropLocal bool

	cmd := &cobra.Command{
		Use:   "migrate <catalog-file>",
		Short: "Switch to a new catalog version",
		Long: `Migrate switches the storage to a new country catalog. Countries
covering the same map files are re-downloaded at the new version; with
--drop-local every local file is removed first, for catalogs whose
region boundaries moved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			if dropLocal {
				if !o.Store.UpdateAllAndChangeHierarchy(ctx, args[0]) {
					return errors.Errorf("migrating to catalog %s", args[0])
				}
			} else if err := o.Store.Migrate(ctx, args[0]); err != nil {
				return errors.Errorf("migrating to catalog %s: %w", args[0], err)
			}

			o.UserLogger.Successf("migrated to data version %d", o.Store.CurrentVersion())
			if !o.Store.IsDownloadInProgress() {
				return nil
			}

			info := o.Store.GetUpdateInfo()
			if err := waitForQueue(o, info.UpdateSizeBytes); err != nil {
				return err
			}
			return o.Store.SaveQueue(ctx)
		},
	}

	cmd.Flags().BoolVar(&dropLocal, "drop-local", false, "delete all local files before re-downloading coverage")
	return cmd
}
