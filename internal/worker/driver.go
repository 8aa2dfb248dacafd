// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/maelstrom-ci/maelstrom/internal/cache"
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/sandbox"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

// BrokerLink is the narrow interface the driver needs onto the
// worker's connection to the broker (spec §4.6): reporting status and
// outcomes, and pulling artifact bytes for a digest this worker does
// not yet have cached. The connection handling that implements this
// (framing, reconnect, the artifact_pull_request/response dance) owns
// the socket; the driver only knows about these three operations.
type BrokerLink interface {
	ReportStatus(jobId proto.JobId, status proto.WorkerStatus) error
	ReportOutcome(jobId proto.JobId, outcome proto.Outcome) error
	PullArtifact(ctx context.Context, d digest.Digest) (body io.ReadCloser, size int64, err error)
}

// Driver is the imperative loop that turns Events into calls to
// Reduce and carries out the resulting Effects against the cache, the
// slot pool, the sandbox executor, and the broker link (spec §5/§9:
// Reduce stays pure, the driver owns every side effect). Callers feed
// it broker messages through AssignJob/CancelJob; it feeds itself
// back through Submit once cache fetches, slot acquisitions, and job
// executions complete.
type Driver struct {
	Cache    *cache.Cache
	Pool     *SlotPool
	Executor *Executor
	Link     BrokerLink

	events chan Event

	mu      sync.Mutex
	state   State
	handles map[proto.JobId]map[digest.Digest]*cache.Handle
	cancels map[proto.JobId]context.CancelFunc
}

// NewDriver wires a Driver around an already-constructed Cache,
// SlotPool, Executor, and BrokerLink.
func NewDriver(c *cache.Cache, pool *SlotPool, executor *Executor, link BrokerLink) *Driver {
	return &Driver{
		Cache:    c,
		Pool:     pool,
		Executor: executor,
		Link:     link,
		events:   make(chan Event, 64),
		state:    NewState(),
		handles:  make(map[proto.JobId]map[digest.Digest]*cache.Handle),
		cancels:  make(map[proto.JobId]context.CancelFunc),
	}
}

// Run drains the event queue, applying Reduce and its Effects, until
// ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.events:
			d.step(e)
		}
	}
}

// Submit enqueues an Event for the next iteration of Run. Safe to
// call from any goroutine, including from within the effects Run
// itself triggers.
func (d *Driver) Submit(e Event) {
	d.events <- e
}

// Status reports a job's current worker-facing phase, if it is known.
func (d *Driver) Status(jobId proto.JobId) (proto.WorkerStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Status(jobId)
}

// AssignJob is the driver's entry point for a broker AssignJob
// message. EventAssignJob.Digests must be the flat set of leaf
// digests Reduce waits on, so AssignJob resolves every layer the job
// references first, descending into Manifest layers (which may
// themselves reference further manifests) before handing the job to
// Reduce.
func (d *Driver) AssignJob(ctx context.Context, jobId proto.JobId, spec proto.JobSpec) error {
	digests, err := d.flatten(ctx, spec.Container.Layers)
	if err != nil {
		return fmt.Errorf("resolving layers for job %s: %w", jobId, err)
	}
	d.Submit(EventAssignJob{JobId: jobId, Spec: spec, Digests: digests})
	return nil
}

// CancelJob is the driver's entry point for a broker CancelJob
// message, valid at any phase. A job waiting for a slot has already
// been placed on the SlotPool's queue (EffectEnqueue was applied when
// it became Ready); Reduce itself never learns about the SlotPool, so
// the driver removes it from the queue directly here rather than
// relying on an Effect that does not exist for that phase.
func (d *Driver) CancelJob(jobId proto.JobId) {
	d.Pool.Remove(jobId)
	d.Submit(EventCancelJob{JobId: jobId})
}

func (d *Driver) step(e Event) {
	d.mu.Lock()
	next, effects := Reduce(d.state, e)
	d.state = next
	d.mu.Unlock()

	for _, eff := range effects {
		d.apply(eff)
	}
}

func (d *Driver) apply(eff Effect) {
	switch e := eff.(type) {
	case EffectFetchLayer:
		d.fetchLayer(e.JobId, e.Digest)
	case EffectEnqueue:
		d.Pool.Enqueue(e.JobId, e.Priority, e.Seq)
		d.dispatch()
	case EffectRun:
		d.run(e.JobId, e.Spec)
	case EffectKill:
		d.kill(e.JobId)
	case EffectReportStatus:
		d.Link.ReportStatus(e.JobId, e.Status)
	case EffectReportOutcome:
		d.releaseHandles(e.JobId)
		d.Link.ReportOutcome(e.JobId, e.Outcome)
	case EffectReleaseHandles:
		d.releaseHandles(e.JobId)
	}
}

// dispatch hands every slot the SlotPool can currently grant to its
// queued job, in priority/arrival order.
func (d *Driver) dispatch() {
	for {
		jobId, ok := d.Pool.Acquire()
		if !ok {
			return
		}
		d.Submit(EventSlotAcquired{JobId: jobId})
	}
}

func (d *Driver) run(jobId proto.JobId, spec proto.JobSpec) {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[jobId] = cancel
	d.mu.Unlock()

	src := d.layerSource(jobId)
	go func() {
		outcome, err := d.Executor.Execute(ctx, jobId, spec, src)

		d.mu.Lock()
		delete(d.cancels, jobId)
		d.mu.Unlock()
		d.Pool.Release()
		d.dispatch()

		if err != nil {
			// Cancelled: ctx.Err() came back instead of an Outcome.
			// The result is discarded entirely, matching spec §4.3's
			// cancellation contract; no EventJobFinished is raised.
			return
		}
		d.Submit(EventJobFinished{JobId: jobId, Outcome: outcome})
	}()
}

func (d *Driver) kill(jobId proto.JobId) {
	d.mu.Lock()
	cancel, ok := d.cancels[jobId]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Driver) fetchLayer(jobId proto.JobId, dig digest.Digest) {
	handle, wait, isFetcher := d.Cache.GetOrRequest(dig)
	if handle != nil {
		d.storeHandle(jobId, dig, handle)
		d.Submit(EventLayerReady{JobId: jobId, Digest: dig})
		return
	}
	if isFetcher {
		go d.performFetch(jobId, dig)
		return
	}
	go d.awaitFetch(jobId, dig, wait)
}

func (d *Driver) performFetch(jobId proto.JobId, dig digest.Digest) {
	body, size, err := d.Link.PullArtifact(context.Background(), dig)
	if err != nil {
		d.Cache.FailFetch(dig, fmt.Errorf("pulling artifact %s: %w", dig, err))
		return
	}
	defer body.Close()

	if err := d.Cache.CompleteFetch(dig, body, size); err != nil {
		return
	}
	handle, err := d.Cache.Pin(dig)
	if err != nil {
		return
	}
	d.storeHandle(jobId, dig, handle)
	d.Submit(EventLayerReady{JobId: jobId, Digest: dig})
}

func (d *Driver) awaitFetch(jobId proto.JobId, dig digest.Digest, wait <-chan cache.FetchResult) {
	result := <-wait
	if result.Err != nil {
		return
	}
	handle, err := d.Cache.Pin(dig)
	if err != nil {
		return
	}
	d.storeHandle(jobId, dig, handle)
	d.Submit(EventLayerReady{JobId: jobId, Digest: dig})
}

// flatten resolves every leaf digest a set of layers touches,
// fetching and decoding Manifest layers on the spot so their children
// are known before AssignJob hands the job to Reduce. Manifest bodies
// are small relative to the tar layers they describe, so resolving
// them synchronously here (rather than through the usual
// EffectFetchLayer/EventLayerReady dance, which exists for
// arbitrarily large content) keeps Reduce's job-readiness bookkeeping
// limited to leaves.
func (d *Driver) flatten(ctx context.Context, layers []proto.Layer) ([]digest.Digest, error) {
	var out []digest.Digest
	for _, l := range layers {
		if l.Type != proto.ArtifactManifest {
			out = append(out, l.Digest)
			continue
		}
		manifest, err := d.resolveManifest(ctx, l.Digest)
		if err != nil {
			return nil, err
		}
		children := make([]proto.Layer, len(manifest.Entries))
		for i, entry := range manifest.Entries {
			children[i] = entry.Ref
		}
		leaves, err := d.flatten(ctx, children)
		if err != nil {
			return nil, err
		}
		out = append(out, leaves...)
	}
	return out, nil
}

func (d *Driver) resolveManifest(ctx context.Context, dig digest.Digest) (proto.Manifest, error) {
	handle, wait, isFetcher := d.Cache.GetOrRequest(dig)
	if handle == nil {
		if isFetcher {
			body, size, err := d.Link.PullArtifact(ctx, dig)
			if err != nil {
				d.Cache.FailFetch(dig, fmt.Errorf("pulling manifest %s: %w", dig, err))
				return proto.Manifest{}, err
			}
			fetchErr := d.Cache.CompleteFetch(dig, body, size)
			body.Close()
			if fetchErr != nil {
				return proto.Manifest{}, fetchErr
			}
		} else {
			result := <-wait
			if result.Err != nil {
				return proto.Manifest{}, result.Err
			}
		}
		var err error
		handle, err = d.Cache.Pin(dig)
		if err != nil {
			return proto.Manifest{}, err
		}
	}
	defer d.Cache.Drop(handle)

	r, err := handle.Open()
	if err != nil {
		return proto.Manifest{}, err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return proto.Manifest{}, err
	}
	var manifest proto.Manifest
	if err := wire.Unmarshal(raw, &manifest); err != nil {
		return proto.Manifest{}, err
	}
	return manifest, nil
}

func (d *Driver) storeHandle(jobId proto.JobId, dig digest.Digest, handle *cache.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.handles[jobId]
	if !ok {
		m = make(map[digest.Digest]*cache.Handle)
		d.handles[jobId] = m
	}
	m[dig] = handle
}

func (d *Driver) releaseHandles(jobId proto.JobId) {
	d.mu.Lock()
	m := d.handles[jobId]
	delete(d.handles, jobId)
	d.mu.Unlock()
	for _, h := range m {
		d.Cache.Drop(h)
	}
}

// layerSource adapts whatever has been pinned for jobId into the
// sandbox.LayerSource interface sandbox.Assemble needs.
func (d *Driver) layerSource(jobId proto.JobId) sandbox.LayerSource {
	d.mu.Lock()
	handles := d.handles[jobId]
	d.mu.Unlock()
	return cacheLayerSource{cache: d.Cache, handles: handles}
}

// cacheLayerSource opens resident cache content for sandbox assembly.
// Leaf digests the driver fetched ahead of execution are already
// pinned in handles; a Manifest digest encountered while walking the
// layer stack (its own pin was dropped once flatten decoded it) is
// pinned again here on demand and dropped once the caller closes it.
type cacheLayerSource struct {
	cache   *cache.Cache
	handles map[digest.Digest]*cache.Handle
}

func (s cacheLayerSource) Open(d digest.Digest) (io.ReadCloser, error) {
	if h, ok := s.handles[d]; ok {
		return h.Open()
	}
	h, err := s.cache.Pin(d)
	if err != nil {
		return nil, err
	}
	r, err := h.Open()
	if err != nil {
		s.cache.Drop(h)
		return nil, err
	}
	return &dropOnClose{ReadCloser: r, cache: s.cache, handle: h}, nil
}

type dropOnClose struct {
	io.ReadCloser
	cache  *cache.Cache
	handle *cache.Handle
}

func (r *dropOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.cache.Drop(r.handle)
	return err
}
