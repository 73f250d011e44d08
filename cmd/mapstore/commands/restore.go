package commands

import (
	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/pkg/catalog"
)

// NewRestoreCmd creates a new restore command
func NewRestoreCmd(newOpts OptsFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [country-id...]",
		Short: "Resume persisted and failed downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			if err := o.Store.RestoreQueue(ctx); err != nil {
				o.UserLogger.Warningf("restoring download queue: %v", err)
			}
			for _, id := range resolveIDs(o.Store, args) {
				o.Store.RestoreDownloading(ctx, id)
			}

			if !o.Store.IsDownloadInProgress() {
				o.UserLogger.Success("nothing to resume")
				return nil
			}

			var total int64
			for _, id := range o.Store.LocalRealMaps() {
				_, remote, err := o.Store.CountrySize(id, catalog.KindAll)
				if err == nil {
					total += remote
				}
			}
			if err := waitForQueue(o, total); err != nil {
				return err
			}
			return o.Store.SaveQueue(ctx)
		},
	}

	return cmd
}
