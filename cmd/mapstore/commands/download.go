package commands

import (
	"sync"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/cmd/mapstore/opts"
	"github.com/walteh/mapstore/pkg/catalog"
	"github.com/walteh/mapstore/pkg/downloader"
	"github.com/walteh/mapstore/pkg/storage"
	"gitlab.com/tozd/go/errors"
)

// NewDownloadCmd creates a new download command
func NewDownloadCmd(newOpts OptsFactory) *cobra.Command {
	var withRouting bool

	cmd := &cobra.Command{
		Use:   "download <country-id...>",
		Short: "Download map files for one or more countries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := newOpts(ctx)
			if err != nil {
				return err
			}

			kinds := catalog.KindMap
			if withRouting {
				kinds = catalog.KindAll
			}

			var total int64
			for _, id := range resolveIDs(o.Store, args) {
				local, remote, err := o.Store.CountrySize(id, kinds)
				if err != nil {
					return errors.Errorf("unknown country: %s", id)
				}
				total += remote - local
				if !o.Store.DownloadCountry(ctx, id, kinds) {
					return errors.Errorf("unknown country: %s", id)
				}
			}

			if !o.Store.IsDownloadInProgress() {
				o.UserLogger.Success("everything already on disk")
				return nil
			}
			if err := o.Store.SaveQueue(ctx); err != nil {
				o.UserLogger.Warningf("saving download queue: %v", err)
			}

			if err := waitForQueue(o, total); err != nil {
				return err
			}
			if err := o.Store.SaveQueue(ctx); err != nil {
				o.UserLogger.Warningf("saving download queue: %v", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withRouting, "routing", false, "also download routing data")
	return cmd
}

// waitForQueue blocks until the download queue drains, driving a progress
// bar from the byte progress of the downloading leaves.
func waitForQueue(o *opts.RootOpts, totalBytes int64) error {
	bar, err := pterm.DefaultProgressbar.
		WithTotal(int(totalBytes)).
		WithTitle("downloading").
		Start()
	if err != nil {
		return errors.Errorf("starting progress bar: %w", err)
	}
	defer func() { _, _ = bar.Stop() }()

	done := make(chan struct{}, 1)
	failed := make(map[catalog.CountryID]storage.ErrorCode)
	var mu sync.Mutex
	seen := make(map[catalog.CountryID]int64)

	statusSlot := o.Store.Subscribe(storage.StatusCallback{
		OnStatusChanged: func(id catalog.CountryID) {
			if !o.Store.IsDownloadInProgress() {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
		OnError: func(id catalog.CountryID, code storage.ErrorCode) {
			if code == storage.NoError {
				return
			}
			mu.Lock()
			failed[id] = code
			mu.Unlock()
			o.UserLogger.Errorf("%s: %s", id, code)
		},
	})
	defer o.Store.UnsubscribeStatus(statusSlot)

	countrySlot := o.Store.SubscribeCountry(storage.CountryObserver{
		OnProgress: func(id catalog.CountryID, p downloader.Progress) {
			// Ancestor events carry aggregated totals; only the
			// downloading leaf moves the bar.
			if current, ok := o.Store.CurrentDownloading(); !ok || current != id {
				return
			}
			mu.Lock()
			delta := p.Downloaded - seen[id]
			seen[id] = p.Downloaded
			mu.Unlock()
			if delta > 0 {
				bar.Add(int(delta))
			}
		},
	})
	defer o.Store.Unsubscribe(countrySlot)

	// Everything may have finished between enqueueing and subscribing.
	if o.Store.IsDownloadInProgress() {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failed) > 0 {
		return errors.Errorf("%d countries failed to download", len(failed))
	}
	o.UserLogger.Success("downloads finished")
	return nil
}
