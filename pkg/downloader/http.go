// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package downloader

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// tempSuffix marks partially downloaded files. The registry scan is
	// configured to ignore them.
	tempSuffix = ".downloading"

	copyChunkSize = 128 * 1024
)

// HTTPOptions configures the HTTP downloader.
type HTTPOptions struct {
	// Servers is the configured mirror list probed by ResolveServerList.
	Servers []string

	// Client is the HTTP client to use. Defaults to a client with a
	// 30 second dial/header timeout and no overall deadline.
	Client *http.Client

	// ProbeTimeout bounds each mirror probe. Defaults to 5 seconds.
	ProbeTimeout time.Duration
}

// HTTP downloads map files over plain HTTP(S) file servers. One transfer
// runs per Fetch call; single-flight scheduling is the storage manager's
// concern, not the transport's.
type HTTP struct {
	opts   HTTPOptions
	client *http.Client

	mu     sync.Mutex
	active map[Handle]context.CancelFunc
}

// NewHTTP creates an HTTP downloader.
func NewHTTP(opts HTTPOptions) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &HTTP{
		opts:   opts,
		client: client,
		active: make(map[Handle]context.CancelFunc),
	}
}

// ResolveServerList probes the configured mirrors concurrently and reports
// the reachable ones. If none respond, the result is ErrNoConnection.
func (d *HTTP) ResolveServerList(ctx context.Context, complete func(urls []string, err error)) {
	go func() {
		logger := zerolog.Ctx(ctx)

		var mu sync.Mutex
		alive := make([]string, 0, len(d.opts.Servers))

		g, gctx := errgroup.WithContext(ctx)
		for _, server := range d.opts.Servers {
			server := server
			g.Go(func() error {
				probeCtx, cancel := context.WithTimeout(gctx, d.opts.ProbeTimeout)
				defer cancel()

				req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, server, nil)
				if err != nil {
					return nil
				}
				resp, err := d.client.Do(req)
				if err != nil {
					logger.Debug().Err(err).Str("server", server).Msg("mirror probe failed")
					return nil
				}
				resp.Body.Close()
				if resp.StatusCode >= http.StatusInternalServerError {
					return nil
				}

				mu.Lock()
				alive = append(alive, server)
				mu.Unlock()
				return nil
			})
		}
		// Probe failures are swallowed above, only ctx errors surface.
		_ = g.Wait()

		if len(alive) == 0 {
			complete(nil, errors.Errorf("probing %d mirrors: %w", len(d.opts.Servers), ErrNoConnection))
			return
		}
		complete(alive, nil)
	}()
}

// Fetch starts one transfer. Request validation and the free-space check
// fail synchronously; everything after that is reported via OnComplete.
func (d *HTTP) Fetch(ctx context.Context, req Request) (Handle, error) {
	if len(req.URLs) == 0 {
		return "", errors.New("fetch request has no urls")
	}
	if req.Path == "" {
		return "", errors.New("fetch request has no destination path")
	}
	if req.OnComplete == nil {
		return "", errors.New("fetch request has no completion callback")
	}

	dir := filepath.Dir(req.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Errorf("creating destination directory: %w", err)
	}
	if err := checkFreeSpace(dir, req.Size); err != nil {
		return "", err
	}

	handle := Handle(uuid.NewString())
	fetchCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.active[handle] = cancel
	d.mu.Unlock()

	go d.run(fetchCtx, handle, req)
	return handle, nil
}

// Abort cancels an in-flight transfer. Unknown handles are ignored.
func (d *HTTP) Abort(handle Handle) {
	d.mu.Lock()
	cancel, ok := d.active[handle]
	delete(d.active, handle)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *HTTP) run(ctx context.Context, handle Handle, req Request) {
	logger := zerolog.Ctx(ctx)

	var lastErr error
	for _, u := range req.URLs {
		err := d.download(ctx, u, req)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			// Aborted, stop trying mirrors.
			break
		}
		logger.Debug().Err(err).Str("url", u).Msg("mirror failed, trying next")
	}

	d.mu.Lock()
	_, wasActive := d.active[handle]
	delete(d.active, handle)
	d.mu.Unlock()

	if !wasActive && lastErr != nil {
		lastErr = ErrAborted
	}
	req.OnComplete(classifyError(lastErr))
}

func (d *HTTP) download(ctx context.Context, url string, req Request) error {
	tmpPath := req.Path + tempSuffix

	out, err := os.Create(tmpPath)
	if err != nil {
		return errors.Errorf("creating temp file: %w", err)
	}
	defer out.Close()
	defer os.Remove(tmpPath)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Errorf("building request: %w", err)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return errors.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = req.Size
	}

	var written int64
	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return errors.Errorf("writing %s: %w", tmpPath, writeErr)
			}
			written += int64(n)
			if req.OnProgress != nil {
				req.OnProgress(Progress{Downloaded: written, Total: total})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.Errorf("reading body: %w", readErr)
		}
	}

	if err := out.Close(); err != nil {
		return errors.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, req.Path); err != nil {
		return errors.Errorf("moving file into place: %w", err)
	}
	return nil
}

// checkFreeSpace refuses a transfer that cannot fit on the destination
// volume.
func checkFreeSpace(dir string, size int64) error {
	if size <= 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		// Treat an unreadable volume as unknown, not as full.
		return nil
	}
	if usage.Free < uint64(size) {
		return errors.Errorf("need %d bytes, %d free: %w", size, usage.Free, ErrNotEnoughSpace)
	}
	return nil
}

// classifyError maps transport failures onto the typed errors the storage
// manager reports to its observers.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrNotEnoughSpace) || errors.Is(err, ErrNoConnection) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return ErrAborted
	}
	if errors.Is(err, syscall.ENOSPC) {
		return errors.Errorf("%v: %w", err, ErrNotEnoughSpace)
	}
	return errors.Errorf("%v: %w", err, ErrNoConnection)
}
