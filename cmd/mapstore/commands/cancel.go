package commands

import (
	"github.com/spf13/cobra"
)

// NewCancelCmd creates a new cancel command
func NewCancelCmd(newOpts OptsFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [country-id...]",
		Short: "Cancel queued or failed downloads",
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
				if o.Store.CancelDownloading(ctx, id) {
					o.UserLogger.Successf("cancelled %s", id)
				} else {
					o.UserLogger.Infof("nothing to cancel for %s", id)
				}
			}
			return o.Store.SaveQueue(ctx)
		},
	}

	return cmd
}
