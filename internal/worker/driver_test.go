// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/maelstrom-ci/maelstrom/internal/cache"
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

type fakeLink struct {
	mu       sync.Mutex
	blobs    map[digest.Digest][]byte
	statuses []proto.WorkerStatus
	outcomes []proto.Outcome
}

func newFakeLink() *fakeLink {
	return &fakeLink{blobs: make(map[digest.Digest][]byte)}
}

func (f *fakeLink) put(content []byte) digest.Digest {
	d := digest.SumBytes(content)
	f.mu.Lock()
	f.blobs[d] = content
	f.mu.Unlock()
	return d
}

func (f *fakeLink) ReportStatus(jobId proto.JobId, status proto.WorkerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeLink) ReportOutcome(jobId proto.JobId, outcome proto.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeLink) PullArtifact(ctx context.Context, d digest.Digest) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	blob, ok := f.blobs[d]
	f.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("fakeLink: no such artifact %s", d)
	}
	return io.NopCloser(bytes.NewReader(blob)), int64(len(blob)), nil
}

func (f *fakeLink) lastStatus() (proto.WorkerStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "", false
	}
	return f.statuses[len(f.statuses)-1], true
}

func newTestDriverCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Options{Dir: t.TempDir(), MaxBytes: 64 << 20})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

// A zero-capacity SlotPool lets these tests exercise everything up to
// (and including) EffectEnqueue deterministically, without ever
// reaching Acquire/EffectRun — which would require a real Executor
// capable of starting a sandboxed process.
func newHaltedDriver(t *testing.T, link *fakeLink) *Driver {
	t.Helper()
	d := NewDriver(newTestDriverCache(t), NewSlotPool(0), &Executor{}, link)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d
}

func waitForStatus(t *testing.T, d *Driver, jobId proto.JobId, want proto.WorkerStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := d.Status(jobId); ok && status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	status, ok := d.Status(jobId)
	t.Fatalf("status for %s = %v, %v; want %v", jobId, status, ok, want)
}

func TestAssignJobWithNoLayersReachesWaitingToExecute(t *testing.T) {
	link := newFakeLink()
	d := newHaltedDriver(t, link)

	if err := d.AssignJob(context.Background(), "j1", proto.JobSpec{}); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	waitForStatus(t, d, "j1", proto.WorkerStatusWaitingToExecute)
}

func TestAssignJobFetchesLayerAndAdvances(t *testing.T) {
	link := newFakeLink()
	dig := link.put([]byte("a tar layer's worth of bytes"))
	d := newHaltedDriver(t, link)

	spec := proto.JobSpec{Container: proto.ContainerSpec{
		Layers: []proto.Layer{{Digest: dig, Type: proto.ArtifactTar}},
	}}
	if err := d.AssignJob(context.Background(), "j1", spec); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}

	waitForStatus(t, d, "j1", proto.WorkerStatusWaitingToExecute)

	if status, ok := link.lastStatus(); !ok || status != proto.WorkerStatusWaitingToExecute {
		t.Fatalf("last reported status = %v, %v; want WaitingToExecute", status, ok)
	}
}

func TestAssignJobExpandsManifestLayers(t *testing.T) {
	link := newFakeLink()
	leaf := link.put([]byte("leaf tar bytes"))

	manifestBytes, err := wire.Marshal(proto.Manifest{Entries: []proto.ManifestEntry{
		{Path: "sub", Ref: proto.Layer{Digest: leaf, Type: proto.ArtifactTar}},
	}})
	if err != nil {
		t.Fatalf("wire.Marshal: %v", err)
	}
	manifestDigest := link.put(manifestBytes)

	d := newHaltedDriver(t, link)
	spec := proto.JobSpec{Container: proto.ContainerSpec{
		Layers: []proto.Layer{{Digest: manifestDigest, Type: proto.ArtifactManifest}},
	}}
	if err := d.AssignJob(context.Background(), "j1", spec); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}

	waitForStatus(t, d, "j1", proto.WorkerStatusWaitingToExecute)
}

func TestCancelQueuedJobForgetsIt(t *testing.T) {
	link := newFakeLink()
	d := newHaltedDriver(t, link)

	if err := d.AssignJob(context.Background(), "j1", proto.JobSpec{}); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}
	waitForStatus(t, d, "j1", proto.WorkerStatusWaitingToExecute)

	d.CancelJob("j1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := d.Status("j1"); !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected job to be forgotten after cancellation")
}

func TestAssignJobUnknownArtifactFailsClosed(t *testing.T) {
	link := newFakeLink()
	d := newHaltedDriver(t, link)

	missing := digest.SumBytes([]byte("never uploaded"))
	spec := proto.JobSpec{Container: proto.ContainerSpec{
		Layers: []proto.Layer{{Digest: missing, Type: proto.ArtifactTar}},
	}}
	if err := d.AssignJob(context.Background(), "j1", spec); err != nil {
		t.Fatalf("AssignJob: %v", err)
	}

	// The fetch fails in the background; the job is left waiting for a
	// layer that will never arrive rather than silently advancing.
	time.Sleep(20 * time.Millisecond)
	status, ok := d.Status("j1")
	if !ok || status != proto.WorkerStatusWaitingForLayers {
		t.Fatalf("status = %v, %v; want WaitingForLayers", status, ok)
	}
}
