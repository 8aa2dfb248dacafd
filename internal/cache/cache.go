// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the content-addressed artifact cache
// described in spec §4.2: a bounded, reference-counted store keyed by
// SHA-256 digest, with at-most-one concurrent fetch per digest and
// LRU eviction restricted to entries with a zero refcount.
//
// The cache is internally serialized behind a single mutex (spec §5:
// "the cache is the only shared mutable resource with multiple
// would-be writers; it is owned by a single task that mediates all
// get/complete/pin/drop through its queue"). A mutex is used here
// rather than a dedicated goroutine+channel because every cache
// operation is already non-blocking CPU work except the fetch itself,
// which callers perform outside the lock and report back through
// CompleteFetch.
package cache

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maelstrom-ci/maelstrom/internal/clock"
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/errs"
)

// state is a cache entry's lifecycle stage (spec §3: Cache entry).
type state int

const (
	stateInFlight state = iota
	stateResident
)

// entry is the cache's bookkeeping record for one digest. Evictable
// is not a stored state but a derived property: an entry is evictable
// iff state == stateResident && refcount == 0.
type entry struct {
	digest digest.Digest

	state    state
	bytes    int64 // on-disk (compressed) size once Resident; 0 while InFlight
	refcount int

	// waiters receive exactly one FetchResult when the in-flight fetch
	// this entry represents completes, successfully or not.
	waiters []chan FetchResult

	// lruElem links this entry into Cache.lru, ordered by last unpin
	// time — "LRU order is by last unpin time (not last get)" (spec §4.2).
	lruElem *list.Element
}

// FetchResult is delivered to every waiter once an in-flight fetch for
// their digest completes.
type FetchResult struct {
	Err error
}

// Handle pins a digest resident in the cache: while held, the
// backing bytes are guaranteed not to be evicted. Callers must call
// Cache.Drop(handle) exactly once when done.
type Handle struct {
	digest digest.Digest
	path   string
}

// Digest returns the digest this handle pins.
func (h *Handle) Digest() digest.Digest { return h.digest }

// Cache is a bounded, reference-counted, on-disk artifact store.
type Cache struct {
	mu sync.Mutex

	dir      string
	maxBytes int64
	clock    clock.Clock

	entries    map[digest.Digest]*entry
	lru        *list.List // of *entry, front = least-recently-unpinned
	totalBytes int64      // sum of entries.bytes for Resident entries
}

// Options configures a new Cache.
type Options struct {
	// Dir is the cache root. Content lives under Dir/sha256/<xx>/<digest>
	// as specified in spec §6. Dir/tmp holds in-progress fetches.
	Dir string

	// MaxBytes bounds total resident on-disk bytes, except transiently
	// while a fetch is completing (spec §3 invariant).
	MaxBytes int64

	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

// New opens or creates a cache at opts.Dir. It does not scan existing
// content on disk into the in-memory index — spec §6 states nothing
// but the content files themselves survive a restart, so a restarted
// broker or worker starts with a cold index and re-fetches as needed.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache: Dir is required")
	}
	if opts.MaxBytes <= 0 {
		return nil, fmt.Errorf("cache: MaxBytes must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	for _, sub := range []string{"sha256", "tmp"} {
		if err := os.MkdirAll(filepath.Join(opts.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("cache: creating %s: %w", sub, err)
		}
	}

	return &Cache{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		clock:    opts.Clock,
		entries:  make(map[digest.Digest]*entry),
		lru:      list.New(),
	}, nil
}

// contentPath returns the sha256/<first-two-hex>/<digest-hex> path for d.
func (c *Cache) contentPath(d digest.Digest) string {
	return filepath.Join(c.dir, "sha256", d.ShardPrefix(), d.String())
}

// GetOrRequest implements spec §4.2's get_or_request: if d is
// Resident, it is pinned immediately and returned as a Handle. If
// not, the caller is registered as a waiter on the (possibly just
// created) InFlight entry. isFetcher is true only for the single
// caller responsible for actually performing the fetch and calling
// CompleteFetch — this is what gives property 3 (at-most-one fetch).
func (c *Cache) GetOrRequest(d digest.Digest) (handle *Handle, wait <-chan FetchResult, isFetcher bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[d]; ok {
		if e.state == stateResident {
			e.refcount++
			if e.lruElem != nil {
				c.lru.Remove(e.lruElem)
				e.lruElem = nil
			}
			return &Handle{digest: d, path: c.contentPath(d)}, nil, false
		}
		// InFlight: join the waiter list, not the fetcher.
		ch := make(chan FetchResult, 1)
		e.waiters = append(e.waiters, ch)
		return nil, ch, false
	}

	// First requester: create the InFlight entry and become the fetcher.
	e := &entry{digest: d, state: stateInFlight}
	ch := make(chan FetchResult, 1)
	e.waiters = append(e.waiters, ch)
	c.entries[d] = e
	return nil, ch, true
}

// Pin acquires an additional reference on an already-resident digest,
// e.g. for a second waiter that received a successful FetchResult and
// now wants its own Handle. Returns an error if d is not Resident.
func (c *Cache) Pin(d digest.Digest) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[d]
	if !ok || e.state != stateResident {
		return nil, fmt.Errorf("cache: pin %s: %w", d, errs.ErrUnknownDigest)
	}
	e.refcount++
	if e.lruElem != nil {
		c.lru.Remove(e.lruElem)
		e.lruElem = nil
	}
	return &Handle{digest: d, path: c.contentPath(d)}, nil
}

// Drop releases a Handle's reference. If the digest's refcount falls
// to zero, it becomes evictable and is pushed to the back of the LRU
// list as of this moment (LRU order is by last-unpin time). Drop then
// opportunistically evicts if the cache is over budget.
func (c *Cache) Drop(h *Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	e, ok := c.entries[h.digest]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.refcount--
	if e.refcount < 0 {
		e.refcount = 0
	}
	if e.refcount == 0 {
		e.lruElem = c.lru.PushBack(e)
	}
	c.mu.Unlock()

	c.ForceEvictIfPossible()
}

// entryState exists purely so tests can inspect an entry's residency,
// refcount and on-disk size without reaching into Cache internals;
// production code never calls it.
func (c *Cache) entryState(d digest.Digest) (resident bool, refcount int, bytesOnDisk int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[d]
	if !ok {
		return false, 0, 0
	}
	return e.state == stateResident, e.refcount, e.bytes
}

// TotalBytes returns the current sum of resident on-disk bytes.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}
