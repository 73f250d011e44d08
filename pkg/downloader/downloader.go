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

	"gitlab.com/tozd/go/errors"
)

// Progress is a pair of downloaded and total bytes for one transfer.
type Progress struct {
	Downloaded int64
	Total      int64
}

// Handle identifies one in-flight transfer for cancellation.
type Handle string

// Request describes one file transfer. The storage manager owns URL
// construction and destination layout; the downloader only moves bytes.
type Request struct {
	// URLs is the mirror list to try, in order.
	URLs []string

	// Path is the final destination file.
	Path string

	// Size is the expected size in bytes, used for the free-space check
	// and as the progress total when the server sends no length.
	Size int64

	// OnProgress is called periodically while bytes arrive. May be nil.
	OnProgress func(Progress)

	// OnComplete is called exactly once with the terminal outcome. A nil
	// error means the file is in place at Path.
	OnComplete func(err error)
}

// 📡 Downloader is the transport consumed by the storage manager. All
// callbacks are invoked from downloader-owned goroutines; the storage
// manager is responsible for serializing them against its own state.
type Downloader interface {
	// ResolveServerList asynchronously determines the usable mirror base
	// URLs and reports them through complete.
	ResolveServerList(ctx context.Context, complete func(urls []string, err error))

	// Fetch starts one transfer and returns a handle for cancellation.
	// Terminal outcomes are delivered through req.OnComplete.
	Fetch(ctx context.Context, req Request) (Handle, error)

	// Abort cancels an in-flight transfer. Aborting an unknown or already
	// finished handle is a no-op.
	Abort(handle Handle)
}

// Typed transfer failures surfaced to the storage manager.
var (
	// ErrNotEnoughSpace means the destination volume cannot hold the file.
	ErrNotEnoughSpace = errors.New("not enough space on device")

	// ErrNoConnection means no mirror could be reached.
	ErrNoConnection = errors.New("no internet connection")

	// ErrAborted means the transfer was cancelled through Abort.
	ErrAborted = errors.New("transfer aborted")
)
