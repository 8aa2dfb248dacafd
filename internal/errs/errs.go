// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package errs collects the sentinel errors shared across Maelstrom's
// packages, following the project's convention of one small
// errors package of fmt.Errorf-created sentinels rather than a bespoke
// error type per package. All other errors are created with
// fmt.Errorf and %w-wrapped at each layer.
package errs

import "fmt"

var (
	// ErrUnknownDigest is returned by cache.Cache.Pin when the digest
	// is not resident in the cache.
	ErrUnknownDigest = fmt.Errorf("unknown digest")

	// ErrDigestMismatch is returned when fetched bytes do not hash to
	// the digest that was requested.
	ErrDigestMismatch = fmt.Errorf("digest mismatch")

	// ErrCacheFull is returned when an entry cannot be made resident
	// even after evicting every evictable entry.
	ErrCacheFull = fmt.Errorf("cache full: no evictable entries remain")

	// ErrFetchInProgress is returned by operations that are invalid
	// while an entry is InFlight.
	ErrFetchInProgress = fmt.Errorf("fetch already in progress")

	// ErrSlotUnavailable is returned when a worker has no idle slot
	// to accept a new assignment.
	ErrSlotUnavailable = fmt.Errorf("no idle slot available")

	// ErrJobCancelled is returned (never surfaced as an Outcome) when
	// a job is cancelled before or during execution.
	ErrJobCancelled = fmt.Errorf("job cancelled")

	// ErrPeerLost is returned by connection-owning code when the
	// underlying socket closes unexpectedly.
	ErrPeerLost = fmt.Errorf("peer connection lost")

	// ErrUnknownWorker / ErrUnknownClient / ErrUnknownJob are returned
	// by broker state-table lookups.
	ErrUnknownWorker = fmt.Errorf("unknown worker")
	ErrUnknownClient = fmt.Errorf("unknown client")
	ErrUnknownJob    = fmt.Errorf("unknown job")

	// ErrFrameTooLarge is a protocol framing error; fatal to the
	// connection it occurred on (§7: framing errors are fatal to the
	// connection, recovered via peer-loss handling).
	ErrFrameTooLarge = fmt.Errorf("frame exceeds maximum size")
)
