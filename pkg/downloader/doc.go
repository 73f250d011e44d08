// Package downloader is the transport boundary of the storage manager:
// an abstract interface that resolves mirror lists, fetches single files
// with progress callbacks, and aborts in-flight transfers, plus an HTTP
// implementation and a scriptable fake for tests. Retry and timeout
// policy live here, not in the storage manager.
package downloader
