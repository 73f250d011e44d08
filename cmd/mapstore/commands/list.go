package commands

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/cmd/mapstore/opts"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/log"
	"github.com/walteh/mapstore/pkg/storage"
	"gitlab.com/tozd/go/errors"
)

// NewListCmd creates a new list command
func NewListCmd(newOpts OptsFactory) *cobra.Command {
	var downloadedOnly bool

	cmd := &cobra.Command{
		Use:   "list [country-id]",
		Short: "List catalog countries and their download state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			root := o.Store.RootID()
			if len(args) == 1 {
				root = catalog.CountryID(args[0])
			}
			if !o.Store.IsInCountryTree(root) {
				return errors.Errorf("unknown country: %s", root)
			}

			o.UserLogger.Header("map catalog")
			return listNode(ctx, o, root, downloadedOnly)
		},
	}

	cmd.Flags().BoolVar(&downloadedOnly, "downloaded", false, "only show countries present on disk")
	return cmd
}

func listNode(ctx context.Context, o *opts.RootOpts, id catalog.CountryID, downloadedOnly bool) error {
	attrs, err := o.Store.NodeAttrs(id)
	if err != nil {
		return errors.Errorf("reading node attributes: %w", err)
	}

	children, err := o.Store.Children(id)
	if err != nil {
		return errors.Errorf("reading children: %w", err)
	}

	if len(children) == 0 {
		if downloadedOnly && attrs.MapsDownloaded == 0 {
			return nil
		}
		o.UserLogger.LogCountryOperation(ctx, log.CountryOperation{
			ID:        string(attrs.ID),
			Name:      attrs.Name,
			Kind:      "map",
			Status:    statusText(attrs.Status),
			SizeBytes: attrs.Size,
			IsNew:     attrs.Status == storage.OnDisk,
			IsUpdate:  attrs.Status == storage.OnDiskOutOfDate,
			IsFailed:  attrs.Status == storage.Failed,
		})
		return nil
	}

	if !downloadedOnly || attrs.MapsDownloaded > 0 {
		o.UserLogger.Infof("%s: %d/%d downloaded", attrs.Name, attrs.MapsDownloaded, attrs.MapsTotal)
	}
	for _, childID := range children {
		if err := listNode(ctx, o, childID, downloadedOnly); err != nil {
			return err
		}
	}
	return nil
}
