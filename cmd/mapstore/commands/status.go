package commands

import (
	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/pkg/catalog"
	"gitlab.com/tozd/go/errors"
)

// NewStatusCmd creates a new status command
func NewStatusCmd(newOpts OptsFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [country-id...]",
		Short: "Show download state and pending updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				for _, arg := range args {
					id := catalog.CountryID(arg)
					st, err := o.Store.StatusEx(id)
					if err != nil {
						return errors.Errorf("reading status of %s: %w", id, err)
					}
					local, remote, err := o.Store.CountrySize(id, catalog.KindAll)
					if err != nil {
						return errors.Errorf("reading size of %s: %w", id, err)
					}
					o.UserLogger.Infof("%s: %s (%d of %d bytes local)", id, statusText(st), local, remote)
				}
				return nil
			}

			o.UserLogger.Header("storage status")
			o.UserLogger.Infof("data version: %d", o.Store.CurrentVersion())
			o.UserLogger.Infof("countries downloaded: %d of %d",
				o.Store.DownloadedCount(), o.Store.CountriesCount(o.Store.RootID()))

			info := o.Store.GetUpdateInfo()
			if info.NumFilesToUpdate > 0 {
				o.UserLogger.Warningf("%d countries out of date (%d bytes to update)",
					info.NumFilesToUpdate, info.UpdateSizeBytes)
			} else {
				o.UserLogger.Success("all local maps are up to date")
			}

			if current, ok := o.Store.CurrentDownloading(); ok {
				o.UserLogger.Infof("currently downloading: %s", current)
			}
			return nil
		},
	}

	return cmd
}
