// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/maelstrom-ci/maelstrom/internal/cache"
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// ClientLink is the narrow interface the driver needs onto connected
// clients (spec §4.5).
type ClientLink interface {
	RequestArtifact(clientId proto.ClientId, d digest.Digest) error
	ForwardStatus(clientId proto.ClientId, jobId proto.JobId, status proto.JobStatus) error
	ForwardOutcome(clientId proto.ClientId, jobId proto.JobId, outcome proto.Outcome) error
}

// WorkerLink is the narrow interface the driver needs onto connected
// workers (spec §4.6).
type WorkerLink interface {
	AssignJob(workerId proto.WorkerId, jobId proto.JobId, spec proto.JobSpec) error
	CancelJob(workerId proto.WorkerId, jobId proto.JobId) error
}

// Driver is the broker's imperative event loop: it calls Reduce and
// carries out the resulting Effects against the cache and the client/
// worker links (spec §5/§9).
//
// Artifact mediation (spec §4.4) is handled at the edges of Reduce
// rather than inside it: ReceiveArtifactPush writes a client's pushed
// bytes into the shared cache and, on success, raises
// EventArtifactKnown; ServePull answers a worker's pull request from
// that same cache. The cache is always populated by a push before any
// worker pulls it in the scenarios spec §8 describes (admission
// requests the push before the job is Ready, and a job is never
// Assigned before it is Ready), so ServePull only ever needs to serve
// already-resident bytes here — it does not itself splice a live pull
// into a fresh push the way a fully general mediator would.
type Driver struct {
	Cache   *cache.Cache
	Clients ClientLink
	Workers WorkerLink

	events chan Event

	mu    sync.Mutex
	state State
}

// NewDriver wires a Driver around an already-constructed Cache and
// the two connection-facing links.
func NewDriver(c *cache.Cache, clients ClientLink, workers WorkerLink) *Driver {
	return &Driver{
		Cache:   c,
		Clients: clients,
		Workers: workers,
		events:  make(chan Event, 256),
		state:   NewState(),
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

// Submit enqueues an Event for the next iteration of Run.
func (d *Driver) Submit(e Event) {
	d.events <- e
}

// JobStatus reports a job's current broker-facing status, if known.
func (d *Driver) JobStatus(jobId proto.JobId) (proto.JobStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.JobStatus(jobId)
}

// WorkerSummary is one worker row in a Snapshot, for the read-only
// status surface (spec §6).
type WorkerSummary struct {
	WorkerId proto.WorkerId
	Capacity int
	InFlight int
}

// JobSummary is one job row in a Snapshot.
type JobSummary struct {
	JobId    proto.JobId
	ClientId proto.ClientId
	Phase    string
	WorkerId proto.WorkerId
}

// Snapshot is a point-in-time, read-only view of the broker's state
// tables, for the HTTP status surface only — nothing in the control
// plane itself consults it.
type Snapshot struct {
	Workers []WorkerSummary
	Jobs    []JobSummary
}

// Snapshot reports the current worker and job tables. Sorted by ID so
// repeated calls produce a stable diff for anyone polling the status
// endpoint.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		Workers: make([]WorkerSummary, 0, len(d.state.workers)),
		Jobs:    make([]JobSummary, 0, len(d.state.jobs)),
	}
	for id, w := range d.state.workers {
		snap.Workers = append(snap.Workers, WorkerSummary{
			WorkerId: id,
			Capacity: w.capacity,
			InFlight: w.inFlight,
		})
	}
	for id, j := range d.state.jobs {
		status, _ := d.state.JobStatus(id)
		snap.Jobs = append(snap.Jobs, JobSummary{
			JobId:    id,
			ClientId: j.clientId,
			Phase:    status.Phase,
			WorkerId: j.workerId,
		})
	}
	sort.Slice(snap.Workers, func(i, j int) bool { return snap.Workers[i].WorkerId < snap.Workers[j].WorkerId })
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].JobId < snap.Jobs[j].JobId })
	return snap
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
	case EffectRequestArtifact:
		d.Clients.RequestArtifact(e.FromClient, e.Digest)
	case EffectAssignJob:
		d.Workers.AssignJob(e.WorkerId, e.JobId, e.Spec)
	case EffectCancelAtWorker:
		d.Workers.CancelJob(e.WorkerId, e.JobId)
	case EffectForwardStatus:
		d.Clients.ForwardStatus(e.ClientId, e.JobId, e.Status)
	case EffectForwardOutcome:
		d.Clients.ForwardOutcome(e.ClientId, e.JobId, e.Outcome)
	}
}

// ReceiveArtifactPush streams a client's ArtifactPushReady body into
// the broker's cache and, once verified, raises EventArtifactKnown so
// Reduce can advance every job waiting on it. body is bound to the
// connection's wire framing (the caller reads exactly size bytes from
// it for this message regardless of outcome), so every path below
// must consume it fully even when this push turns out to be
// redundant with one already resident or in flight.
func (d *Driver) ReceiveArtifactPush(clientId proto.ClientId, dig digest.Digest, body io.Reader, size int64) error {
	handle, _, isFetcher := d.Cache.GetOrRequest(dig)
	if !isFetcher {
		if handle != nil {
			d.Cache.Drop(handle)
		}
		if _, err := io.Copy(io.Discard, body); err != nil {
			return fmt.Errorf("draining redundant artifact push %s from %s: %w", dig, clientId, err)
		}
		d.Submit(EventArtifactKnown{Digest: dig, ClientId: clientId})
		return nil
	}

	if err := d.Cache.CompleteFetch(dig, body, size); err != nil {
		return fmt.Errorf("receiving artifact %s from %s: %w", dig, clientId, err)
	}
	d.Submit(EventArtifactKnown{Digest: dig, ClientId: clientId})
	return nil
}

// ServePull answers a worker's ArtifactPullRequest from the broker's
// cache. wire.WriteBody needs the exact byte count up front
// (ArtifactPullResponse.Size), and Cache exposes no per-entry
// uncompressed size, so the content is read into memory once here
// rather than streamed — acceptable for the job-layer sizes this
// system deals in, unlike the client/worker artifact transfer path
// itself, which streams.
func (d *Driver) ServePull(dig digest.Digest) (io.ReadCloser, int64, error) {
	handle, err := d.Cache.Pin(dig)
	if err != nil {
		return nil, 0, fmt.Errorf("serving pull for %s: %w", dig, err)
	}
	defer d.Cache.Drop(handle)

	r, err := handle.Open()
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", dig, err)
	}
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}
