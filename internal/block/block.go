// Package block provides the byte-addressed random-access backends that
// the paged file system is built on: a direct pass-through to a host file,
// an in-memory store for ephemeral databases, and an LRU page-cached
// wrapper around either.
//
// All three satisfy Backend with absolute-offset semantics — there is no
// shared read/write cursor, so interleaving operations from a single
// goroutine is always safe even though no method is itself concurrency
// safe across goroutines (spec: at-most-one writer, readers tolerated only
// if the backend permits it).
package block

import "errors"

// ErrShortIO is wrapped into the error returned whenever a read or write
// did not complete in full. It never corrupts in-memory cache state; the
// caller decides whether to retry.
var ErrShortIO = errors.New("block: short read or write")

// Backend is the host-I/O contract every paged file-system component is
// built on. It is deliberately narrower than spec.md's tell/seek/read/write
// quartet: Go's offset-taking ReadAt/WriteAt make an explicit cursor
// unnecessary, and every call site already knows its absolute position.
type Backend interface {
	// ReadAt reads len(p) bytes starting at offset off. It returns
	// ErrShortIO (wrapped) if fewer bytes could be read, without mutating
	// any cache state.
	ReadAt(p []byte, off int64) error

	// WriteAt writes all of p starting at offset off. It returns
	// ErrShortIO (wrapped) if the write did not complete in full.
	WriteAt(p []byte, off int64) error

	// Size returns the current logical size of the backend in bytes.
	Size() int64

	// Sync flushes any buffered state to durable storage. For the memory
	// backend this is a no-op.
	Sync() error

	// Close releases any underlying resources (file descriptors, cache
	// memory). After Close, the backend must not be used.
	Close() error
}
