// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/errs"
)

// randomBytes returns n bytes that zstd cannot meaningfully compress,
// for tests that need the cache's on-disk accounting to track the
// size they asked for.
func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return buf
}

func newTestCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := New(Options{Dir: t.TempDir(), MaxBytes: maxBytes})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func ingest(t *testing.T, c *Cache, content []byte) digest.Digest {
	t.Helper()
	d := digest.SumBytes(content)
	_, wait, isFetcher := c.GetOrRequest(d)
	if !isFetcher {
		t.Fatalf("expected first request for %s to be the fetcher", d)
	}
	if err := c.CompleteFetch(d, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("CompleteFetch: %v", err)
	}
	result := <-wait
	if result.Err != nil {
		t.Fatalf("fetch failed: %v", result.Err)
	}
	return d
}

func TestGetOrRequestResidentPinsImmediately(t *testing.T) {
	c := newTestCache(t, 1<<20)
	content := []byte("resident content")
	d := ingest(t, c, content)

	handle, _, isFetcher := c.GetOrRequest(d)
	if handle == nil || isFetcher {
		t.Fatalf("GetOrRequest = %v, isFetcher %v; want a handle and no fetch", handle, isFetcher)
	}
	defer c.Drop(handle)

	resident, refcount, _ := c.entryState(d)
	if !resident {
		t.Fatal("expected entry to be resident")
	}
	if refcount != 1 {
		t.Fatalf("refcount = %d, want 1", refcount)
	}
}

// TestDigestIntegrity is testable property 4: any ResidentHandle
// points to bytes whose sha256 equals its digest.
func TestDigestIntegrity(t *testing.T) {
	c := newTestCache(t, 1<<20)
	content := []byte("hello, digest integrity")
	d := ingest(t, c, content)

	handle, err := c.Pin(d)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	defer c.Drop(handle)

	reader, err := handle.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	got, _, err := digest.Sum(reader)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if got != d {
		t.Fatalf("content hashes to %s, want %s", got, d)
	}
}

func TestCompleteFetchRejectsDigestMismatch(t *testing.T) {
	c := newTestCache(t, 1<<20)
	claimed := digest.SumBytes([]byte("claimed"))
	actual := []byte("but this is the actual content")

	_, wait, isFetcher := c.GetOrRequest(claimed)
	if !isFetcher {
		t.Fatal("expected to be the fetcher")
	}

	err := c.CompleteFetch(claimed, bytes.NewReader(actual), int64(len(actual)))
	if !errors.Is(err, errs.ErrDigestMismatch) {
		t.Fatalf("CompleteFetch error = %v, want errs.ErrDigestMismatch", err)
	}

	result := <-wait
	if result.Err == nil {
		t.Fatal("expected waiter to observe the failure")
	}

	// The digest is not poisoned: a retry with correct content succeeds.
	d2 := ingest(t, c, actual)
	if d2 == claimed {
		t.Fatal("test setup error: actual content hashed to the claimed digest")
	}
}

// TestAtMostOneFetch is testable property 3: concurrent GetOrRequest
// calls for the same digest produce exactly one fetch attempt (E5:
// dedup pull).
func TestAtMostOneFetch(t *testing.T) {
	c := newTestCache(t, 1<<20)
	content := []byte("shared artifact requested by two workers")
	d := digest.SumBytes(content)

	var wg sync.WaitGroup
	fetcherCount := 0
	var mu sync.Mutex
	waiters := make([]<-chan FetchResult, 0, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, wait, isFetcher := c.GetOrRequest(d)
			mu.Lock()
			if isFetcher {
				fetcherCount++
			}
			waiters = append(waiters, wait)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if fetcherCount != 1 {
		t.Fatalf("fetcherCount = %d, want exactly 1", fetcherCount)
	}

	if err := c.CompleteFetch(d, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("CompleteFetch: %v", err)
	}
	for _, w := range waiters {
		if result := <-w; result.Err != nil {
			t.Fatalf("waiter saw error: %v", result.Err)
		}
	}
}

// TestEvictionUnderPin mirrors scenario E6: pinning an entry lets the
// cache exceed its bound transiently; unpinning allows eviction back
// under budget.
func TestEvictionUnderPin(t *testing.T) {
	const bound = 10 << 20 // 10 MiB
	c := newTestCache(t, bound)

	a := randomBytes(t, 6<<20)
	digestA := digest.SumBytes(a)
	_, waitA, isFetcher := c.GetOrRequest(digestA)
	if !isFetcher {
		t.Fatal("expected fetcher for A")
	}
	if err := c.CompleteFetch(digestA, bytes.NewReader(a), int64(len(a))); err != nil {
		t.Fatalf("CompleteFetch A: %v", err)
	}
	<-waitA
	handleA, err := c.Pin(digestA)
	if err != nil {
		t.Fatalf("Pin A: %v", err)
	}

	b := randomBytes(t, 6<<20)
	ingest(t, c, b)

	// Resident total now exceeds the bound, which is permitted
	// transiently (spec §3 invariant) because A is still pinned.
	if c.TotalBytes() <= bound {
		t.Fatalf("TotalBytes() = %d, want > %d (A still pinned)", c.TotalBytes(), bound)
	}

	c.Drop(handleA)

	if err := c.ForceEvictIfPossible(); err != nil {
		t.Fatalf("ForceEvictIfPossible: %v", err)
	}
	if got := c.TotalBytes(); got > bound {
		t.Fatalf("TotalBytes after eviction = %d, want <= %d", got, bound)
	}

	resident, _, _ := c.entryState(digestA)
	if resident {
		t.Fatal("expected A to have been evicted")
	}
}

func TestPinUnknownDigestErrors(t *testing.T) {
	c := newTestCache(t, 1<<20)
	_, err := c.Pin(digest.SumBytes([]byte("never fetched")))
	if !errors.Is(err, errs.ErrUnknownDigest) {
		t.Fatalf("Pin error = %v, want errs.ErrUnknownDigest", err)
	}
}

func TestDropIsIdempotentOnUnknownHandle(t *testing.T) {
	c := newTestCache(t, 1<<20)
	// Dropping nil or an already-evicted handle must not panic.
	c.Drop(nil)
	c.Drop(&Handle{digest: digest.SumBytes([]byte("ghost"))})
}

var _ io.Reader = bytes.NewReader(nil)
