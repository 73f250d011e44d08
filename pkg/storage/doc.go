// Package storage is the country storage manager: it keeps the static
// catalog of downloadable map regions, the registry of files actually on
// disk, and the queue of in-flight downloads consistent with each other,
// exposes a queryable per-node status, and notifies subscribed observers
// about status changes, errors and byte progress.
//
// Downloads are single-flight: only the head of the queue is ever active
// through the external downloader; a failure moves the country into the
// failed set and the queue proceeds. All mutation is serialized behind
// one mutex; the lock is never held across a downloader call or an
// observer callback, so observers may call back into the storage.
package storage
