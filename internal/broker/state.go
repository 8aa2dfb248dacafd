// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the broker's scheduler (spec §4.4): the
// client/worker/job state tables, admission, the per-client-fair,
// locality-scoring dispatch policy, and artifact mediation between
// clients and workers. Like internal/worker, the control plane is a
// pure State/Event/Reduce triple plus an imperative Driver that
// carries out the Effects Reduce returns (spec §5/§9).
package broker

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// jobPhase is the broker's view of a job, coarser than the worker's
// own phase (spec §3/§4.5): a job is WaitingForLayers until every
// layer it references is known to the broker, Ready once it can be
// handed to any eligible worker, and Assigned once one has been
// chosen. There is no separate Cancelled phase: a cancelled job is
// deleted from the table outright (spec §8 invariant 7: no outcome
// delivery for it, ever).
type jobPhase int

const (
	jobPhaseWaitingForLayers jobPhase = iota
	jobPhaseReady
	jobPhaseAssigned
)

// jobRecord is the broker's bookkeeping for one admitted job.
type jobRecord struct {
	clientId    proto.ClientId
	clientJobId proto.ClientJobId
	spec        proto.JobSpec
	digests     []digest.Digest // every layer's own digest, in Container.Layers order

	phase          jobPhase
	pendingDigests map[digest.Digest]bool
	workerId       proto.WorkerId // set only once Assigned

	seq uint64 // admission order, used for FIFO-within-priority and round robin
}

// workerRecord is the broker's bookkeeping for one connected worker.
type workerRecord struct {
	capacity     int
	inFlight     int
	knownDigests map[digest.Digest]bool
	connectedSeq uint64 // breaks remaining dispatch ties deterministically
}

// clientRecord is the broker's bookkeeping for one connected client.
type clientRecord struct {
	jobs map[proto.JobId]bool // outstanding jobs, for PeerLost cancellation
}

// State is the broker's full control-plane state (spec §4.4).
type State struct {
	clients       map[proto.ClientId]*clientRecord
	workers       map[proto.WorkerId]*workerRecord
	jobs          map[proto.JobId]*jobRecord
	artifactIndex map[digest.Digest]map[proto.ClientId]bool

	nextSeq uint64
}

// NewState returns an empty broker state.
func NewState() State {
	return State{
		clients:       make(map[proto.ClientId]*clientRecord),
		workers:       make(map[proto.WorkerId]*workerRecord),
		jobs:          make(map[proto.JobId]*jobRecord),
		artifactIndex: make(map[digest.Digest]map[proto.ClientId]bool),
	}
}

func (s State) clone() State {
	next := State{
		clients:       make(map[proto.ClientId]*clientRecord, len(s.clients)),
		workers:       make(map[proto.WorkerId]*workerRecord, len(s.workers)),
		jobs:          make(map[proto.JobId]*jobRecord, len(s.jobs)),
		artifactIndex: make(map[digest.Digest]map[proto.ClientId]bool, len(s.artifactIndex)),
		nextSeq:       s.nextSeq,
	}
	for id, c := range s.clients {
		jobs := make(map[proto.JobId]bool, len(c.jobs))
		for j := range c.jobs {
			jobs[j] = true
		}
		next.clients[id] = &clientRecord{jobs: jobs}
	}
	for id, w := range s.workers {
		known := make(map[digest.Digest]bool, len(w.knownDigests))
		for d := range w.knownDigests {
			known[d] = true
		}
		next.workers[id] = &workerRecord{
			capacity:     w.capacity,
			inFlight:     w.inFlight,
			knownDigests: known,
			connectedSeq: w.connectedSeq,
		}
	}
	for id, j := range s.jobs {
		pending := make(map[digest.Digest]bool, len(j.pendingDigests))
		for d := range j.pendingDigests {
			pending[d] = true
		}
		digests := make([]digest.Digest, len(j.digests))
		copy(digests, j.digests)
		next.jobs[id] = &jobRecord{
			clientId:       j.clientId,
			clientJobId:    j.clientJobId,
			spec:           j.spec,
			digests:        digests,
			phase:          j.phase,
			pendingDigests: pending,
			workerId:       j.workerId,
			seq:            j.seq,
		}
	}
	for d, owners := range s.artifactIndex {
		set := make(map[proto.ClientId]bool, len(owners))
		for c := range owners {
			set[c] = true
		}
		next.artifactIndex[d] = set
	}
	return next
}

// JobStatus projects a job's broker-side bookkeeping into the
// client-facing status spec §4.5 describes.
func (s State) JobStatus(jobId proto.JobId) (proto.JobStatus, bool) {
	rec, ok := s.jobs[jobId]
	if !ok {
		return proto.JobStatus{}, false
	}
	switch rec.phase {
	case jobPhaseWaitingForLayers:
		return proto.JobStatus{Phase: "waiting_for_layers"}, true
	case jobPhaseReady:
		return proto.JobStatus{Phase: "waiting_for_worker"}, true
	default:
		return proto.JobStatus{Phase: "at_worker", WorkerId: rec.workerId}, true
	}
}
