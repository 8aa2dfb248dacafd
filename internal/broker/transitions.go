// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

func reduceClientConnected(next State, e EventClientConnected) (State, []Effect) {
	if _, ok := next.clients[e.ClientId]; ok {
		return next, nil
	}
	next.clients[e.ClientId] = &clientRecord{jobs: make(map[proto.JobId]bool)}
	return next, nil
}

// reduceClientDisconnected implements spec §7's client PeerLost rule:
// every job the client submitted is cancelled, the same way an
// explicit CancelJob would be.
func reduceClientDisconnected(next State, e EventClientDisconnected) (State, []Effect) {
	c, ok := next.clients[e.ClientId]
	if !ok {
		return next, nil
	}
	var effects []Effect
	for jobId := range c.jobs {
		next, effects = cancelJob(next, jobId, effects)
	}
	delete(next.clients, e.ClientId)
	return next, effects
}

func reduceWorkerConnected(next State, e EventWorkerConnected) (State, []Effect) {
	next.workers[e.WorkerId] = &workerRecord{
		capacity:     e.Capacity,
		knownDigests: make(map[digest.Digest]bool),
		connectedSeq: next.nextSeq,
	}
	next.nextSeq++
	return next, nil
}

func reduceWorkerJobStatusUpdate(next State, e EventWorkerJobStatusUpdate) (State, []Effect) {
	rec, ok := next.jobs[e.JobId]
	if !ok {
		return next, nil
	}
	status := proto.JobStatus{
		Phase:    "at_worker",
		WorkerId: e.WorkerId,
		AtWorker: proto.AtWorkerPhase(e.Status),
	}
	return next, []Effect{EffectForwardStatus{ClientId: rec.clientId, JobId: e.JobId, Status: status}}
}

// reduceWorkerJobOutcome forwards a terminal outcome and frees the
// worker's slot. If the job is unknown (already cancelled), the
// outcome is silently dropped — spec §8 invariant 7.
func reduceWorkerJobOutcome(next State, e EventWorkerJobOutcome) (State, []Effect) {
	rec, ok := next.jobs[e.JobId]
	if !ok {
		return next, nil
	}
	if w, ok := next.workers[rec.workerId]; ok {
		w.inFlight--
		if w.inFlight < 0 {
			w.inFlight = 0
		}
	}
	if c, ok := next.clients[rec.clientId]; ok {
		delete(c.jobs, e.JobId)
	}
	delete(next.jobs, e.JobId)
	return next, []Effect{EffectForwardOutcome{ClientId: rec.clientId, JobId: e.JobId, Outcome: e.Outcome}}
}

// reduceWorkerDisconnected implements spec §7's worker PeerLost rule:
// every job Assigned to it re-enters Ready (spec §8 invariant 8).
func reduceWorkerDisconnected(next State, e EventWorkerDisconnected) (State, []Effect) {
	var effects []Effect
	for jobId, rec := range next.jobs {
		if rec.workerId != e.WorkerId || rec.phase != jobPhaseAssigned {
			continue
		}
		rec.phase = jobPhaseReady
		rec.workerId = ""
		effects = append(effects, EffectForwardStatus{
			ClientId: rec.clientId,
			JobId:    jobId,
			Status:   proto.JobStatus{Phase: "waiting_for_worker"},
		})
	}
	delete(next.workers, e.WorkerId)
	return next, effects
}

// reduceRunJob implements spec §4.4's admission: the broker consults
// its artifact index for every layer the job references and asks the
// submitting client to push whichever ones it does not yet know
// about, before the job can become Ready.
func reduceRunJob(next State, e EventRunJob) (State, []Effect) {
	jobId := proto.JobId(fmt.Sprintf("%s:%s", e.ClientId, e.ClientJobId))

	digests := make([]digest.Digest, len(e.Spec.Container.Layers))
	for i, l := range e.Spec.Container.Layers {
		digests[i] = l.Digest
	}

	pending := make(map[digest.Digest]bool)
	var effects []Effect
	for _, d := range digests {
		if owners, ok := next.artifactIndex[d]; ok && len(owners) > 0 {
			continue
		}
		pending[d] = true
		effects = append(effects, EffectRequestArtifact{Digest: d, FromClient: e.ClientId})
	}

	rec := &jobRecord{
		clientId:       e.ClientId,
		clientJobId:    e.ClientJobId,
		spec:           e.Spec,
		digests:        digests,
		pendingDigests: pending,
		seq:            next.nextSeq,
	}
	next.nextSeq++
	if len(pending) == 0 {
		rec.phase = jobPhaseReady
	} else {
		rec.phase = jobPhaseWaitingForLayers
	}
	next.jobs[jobId] = rec

	if c, ok := next.clients[e.ClientId]; ok {
		c.jobs[jobId] = true
	} else {
		next.clients[e.ClientId] = &clientRecord{jobs: map[proto.JobId]bool{jobId: true}}
	}

	status, _ := next.JobStatus(jobId)
	effects = append(effects, EffectForwardStatus{ClientId: e.ClientId, JobId: jobId, Status: status})
	return next, effects
}

func reduceCancelJob(next State, e EventCancelJob) (State, []Effect) {
	return cancelJob(next, e.JobId, nil)
}

// cancelJob removes a job from the table at any phase and, if it was
// Assigned, tells the worker to stop it (spec §5: "a late outcome for
// a cancelled job is dropped" is enforced simply by the job no longer
// existing when that outcome arrives). The worker's slot is freed
// immediately rather than waiting for an outcome that will never be
// forwarded.
func cancelJob(next State, jobId proto.JobId, effects []Effect) (State, []Effect) {
	rec, ok := next.jobs[jobId]
	if !ok {
		return next, effects
	}
	delete(next.jobs, jobId)
	if c, ok := next.clients[rec.clientId]; ok {
		delete(c.jobs, jobId)
	}

	if rec.phase == jobPhaseAssigned {
		if w, ok := next.workers[rec.workerId]; ok {
			w.inFlight--
			if w.inFlight < 0 {
				w.inFlight = 0
			}
		}
		effects = append(effects, EffectCancelAtWorker{WorkerId: rec.workerId, JobId: jobId})
	}
	return next, effects
}

// reduceArtifactKnown implements the broker-side half of admission:
// once a digest is pushed by its owning client, every job waiting on
// it is re-checked and may become Ready.
func reduceArtifactKnown(next State, e EventArtifactKnown) (State, []Effect) {
	owners, ok := next.artifactIndex[e.Digest]
	if !ok {
		owners = make(map[proto.ClientId]bool)
		next.artifactIndex[e.Digest] = owners
	}
	owners[e.ClientId] = true

	var effects []Effect
	for jobId, rec := range next.jobs {
		if rec.phase != jobPhaseWaitingForLayers || !rec.pendingDigests[e.Digest] {
			continue
		}
		delete(rec.pendingDigests, e.Digest)
		if len(rec.pendingDigests) > 0 {
			continue
		}
		rec.phase = jobPhaseReady
		effects = append(effects, EffectForwardStatus{
			ClientId: rec.clientId,
			JobId:    jobId,
			Status:   proto.JobStatus{Phase: "waiting_for_worker"},
		})
	}
	return next, effects
}
