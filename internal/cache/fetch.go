// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/errs"
)

// CompleteFetch implements spec §4.2's complete_fetch: it streams src
// (size bytes, e.g. from an artifact-pull connection) through SHA-256
// while zstd-compressing it to a temp file, verifies the result hashes
// to want, and atomically renames the temp file into place. On
// success every waiter on the InFlight entry is notified; on a digest
// mismatch or I/O error, the temp file is removed and every waiter is
// notified of the failure — the cache is not poisoned, a later retry
// starts a fresh fetch (spec §4.2: "If verification fails ... never
// poisons the digest").
func (c *Cache) CompleteFetch(want digest.Digest, src io.Reader, size int64) error {
	got, tmpPath, bytesWritten, writeErr := c.stageFetch(src, size)
	if writeErr != nil {
		c.failFetch(want, fmt.Errorf("cache: fetching %s: %w", want, writeErr))
		return writeErr
	}
	if got != want {
		os.Remove(tmpPath)
		err := fmt.Errorf("cache: fetched content for %s hashes to %s: %w", want, got, errs.ErrDigestMismatch)
		c.failFetch(want, err)
		return err
	}

	finalPath := c.contentPath(want)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		err = fmt.Errorf("cache: creating shard directory for %s: %w", want, err)
		c.failFetch(want, err)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		err = fmt.Errorf("cache: installing %s: %w", want, err)
		c.failFetch(want, err)
		return err
	}

	c.succeedFetch(want, bytesWritten)
	return nil
}

// stageFetch writes src to a temp file under dir/tmp, zstd-compressing
// as it goes, and returns the SHA-256 digest of the *uncompressed*
// content alongside the compressed byte count written to disk.
func (c *Cache) stageFetch(src io.Reader, size int64) (digest.Digest, string, int64, error) {
	tmpFile, err := os.CreateTemp(filepath.Join(c.dir, "tmp"), uuid.NewString()+"-*")
	if err != nil {
		return digest.Digest{}, "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	encoder, err := zstd.NewWriter(tmpFile)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return digest.Digest{}, "", 0, fmt.Errorf("creating zstd encoder: %w", err)
	}

	limited := io.LimitReader(src, size)
	got, _, err := digest.Sum(io.TeeReader(limited, encoder))
	closeErr := encoder.Close()
	syncErr := tmpFile.Sync()
	tmpFile.Close()

	if err != nil {
		os.Remove(tmpPath)
		return digest.Digest{}, "", 0, fmt.Errorf("streaming content: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return digest.Digest{}, "", 0, fmt.Errorf("flushing compressed content: %w", closeErr)
	}
	if syncErr != nil {
		os.Remove(tmpPath)
		return digest.Digest{}, "", 0, fmt.Errorf("syncing temp file: %w", syncErr)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return digest.Digest{}, "", 0, fmt.Errorf("stat temp file: %w", err)
	}
	return got, tmpPath, info.Size(), nil
}

// succeedFetch transitions an entry from InFlight to Resident and
// wakes every waiter with a nil error. The first waiter (the
// fetcher) and every other waiter are treated identically here — each
// must call Pin to obtain their own Handle, matching "all receive the
// same handle on completion" at the semantic (not pointer) level.
func (c *Cache) succeedFetch(d digest.Digest, bytes int64) {
	c.mu.Lock()
	e, ok := c.entries[d]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.state = stateResident
	e.bytes = bytes
	c.totalBytes += bytes
	waiters := e.waiters
	e.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- FetchResult{Err: nil}
		close(ch)
	}
}

// failFetch removes the InFlight entry entirely and wakes every
// waiter with err, so a subsequent GetOrRequest starts a brand-new
// fetch attempt.
func (c *Cache) failFetch(d digest.Digest, err error) {
	c.mu.Lock()
	e, ok := c.entries[d]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, d)
	waiters := e.waiters
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- FetchResult{Err: err}
		close(ch)
	}
}

// FailFetch aborts an in-flight fetch without ever attempting to read
// a body: used when the fetch itself could not be started (e.g. the
// broker reported the artifact unknown, or the pull connection was
// lost) rather than when a delivered body failed verification.
// Waiters see the same fmt.Errorf-wrapped err CompleteFetch would have
// given them; the digest is not poisoned, so a later retry starts a
// fresh fetch.
func (c *Cache) FailFetch(d digest.Digest, err error) {
	c.failFetch(d, err)
}

// ForceEvictIfPossible implements spec §4.2's force_evict_if_possible:
// evict Evictable entries (refcount == 0) in LRU order (by
// last-unpin time) until total bytes <= the configured bound.
// Entries still pinned are never touched, so the bound can be
// exceeded indefinitely if enough bytes stay pinned (spec §3
// invariant: the bound holds "except transiently while an InFlight
// fetch completes" — a heavily pinned working set is the other
// sanctioned exception).
func (c *Cache) ForceEvictIfPossible() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked()
}

func (c *Cache) evictLocked() error {
	for c.totalBytes > c.maxBytes {
		front := c.lru.Front()
		if front == nil {
			return fmt.Errorf("cache: over budget by %d bytes: %w", c.totalBytes-c.maxBytes, errs.ErrCacheFull)
		}
		e := front.Value.(*entry)
		c.lru.Remove(front)
		e.lruElem = nil

		if err := os.Remove(c.contentPath(e.digest)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cache: evicting %s: %w", e.digest, err)
		}
		c.totalBytes -= e.bytes
		delete(c.entries, e.digest)
	}
	return nil
}
