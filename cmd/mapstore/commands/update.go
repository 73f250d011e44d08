package commands

import (
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

// NewUpdateCmd creates a new update command
func NewUpdateCmd(newOpts OptsFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [country-id...]",
		Short: "Re-download out-of-date local maps",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			info := o.Store.GetUpdateInfo()
			if info.NumFilesToUpdate == 0 {
				o.UserLogger.Success("all local maps are up to date")
				return nil
			}
			o.UserLogger.Infof("updating %d countries (%d bytes)", info.NumFilesToUpdate, info.UpdateSizeBytes)

			for _, id := range resolveIDs(o.Store, args) {
				if !o.Store.UpdateNode(ctx, id) {
					return errors.Errorf("unknown country: %s", id)
				}
			}
			if !o.Store.IsDownloadInProgress() {
				o.UserLogger.Success("nothing to update under the selected countries")
				return nil
			}
			return waitForQueue(o, info.UpdateSizeBytes)
		},
	}

	return cmd
}
