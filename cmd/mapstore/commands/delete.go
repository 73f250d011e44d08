package commands

import (
	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/pkg/catalog"
	"gitlab.com/tozd/go/errors"
)

// NewDeleteCmd creates a new delete command
func NewDeleteCmd(newOpts OptsFactory) *cobra.Command {
	var routingOnly bool

	cmd := &cobra.Command{
		Use:   "delete <country-id...>",
		Short: "Delete local map files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			kinds := catalog.KindAll
			if routingOnly {
				kinds = catalog.KindRouting
			}

			for _, id := range resolveIDs(o.Store, args) {
				if !o.Store.DeleteCountry(ctx, id, kinds) {
					return errors.Errorf("unknown country: %s", id)
				}
				o.UserLogger.Successf("deleted %s", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&routingOnly, "routing-only", false, "keep the base map, delete only routing data")
	return cmd
}
