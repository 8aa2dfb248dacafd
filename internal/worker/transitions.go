// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
)

func reduceAssignJob(next State, e EventAssignJob) (State, []Effect) {
	pending := make(map[digest.Digest]bool, len(e.Digests))
	for _, d := range e.Digests {
		pending[d] = true
	}

	rec := &jobRecord{
		spec:    e.Spec,
		phase:   phaseWaitingForLayers,
		pending: pending,
		seq:     next.nextSeq,
	}
	next.nextSeq++
	next.jobs[e.JobId] = rec

	effects := []Effect{EffectReportStatus{JobId: e.JobId, Status: rec.phase.workerStatus()}}
	for d := range pending {
		effects = append(effects, EffectFetchLayer{JobId: e.JobId, Digest: d})
	}
	if len(pending) == 0 {
		rec.phase = phaseWaitingToExecute
		effects = append(effects,
			EffectReportStatus{JobId: e.JobId, Status: rec.phase.workerStatus()},
			EffectEnqueue{JobId: e.JobId, Priority: rec.spec.Priority, Seq: rec.seq},
		)
	}
	return next, effects
}

func reduceLayerReady(next State, e EventLayerReady) (State, []Effect) {
	rec, ok := next.jobs[e.JobId]
	if !ok || rec.phase != phaseWaitingForLayers {
		return next, nil
	}
	delete(rec.pending, e.Digest)
	if len(rec.pending) > 0 {
		return next, nil
	}

	rec.phase = phaseWaitingToExecute
	return next, []Effect{
		EffectReportStatus{JobId: e.JobId, Status: rec.phase.workerStatus()},
		EffectEnqueue{JobId: e.JobId, Priority: rec.spec.Priority, Seq: rec.seq},
	}
}

func reduceSlotAcquired(next State, e EventSlotAcquired) (State, []Effect) {
	rec, ok := next.jobs[e.JobId]
	if !ok || rec.phase != phaseWaitingToExecute {
		return next, nil
	}
	rec.phase = phaseExecuting
	return next, []Effect{
		EffectReportStatus{JobId: e.JobId, Status: rec.phase.workerStatus()},
		EffectRun{JobId: e.JobId, Spec: rec.spec},
	}
}

func reduceJobFinished(next State, e EventJobFinished) (State, []Effect) {
	if _, ok := next.jobs[e.JobId]; !ok {
		return next, nil
	}
	delete(next.jobs, e.JobId)
	return next, []Effect{EffectReportOutcome{JobId: e.JobId, Outcome: e.Outcome}}
}

func reduceCancelJob(next State, e EventCancelJob) (State, []Effect) {
	rec, ok := next.jobs[e.JobId]
	if !ok {
		return next, nil
	}
	delete(next.jobs, e.JobId)
	effects := []Effect{EffectReleaseHandles{JobId: e.JobId}}
	if rec.phase == phaseExecuting {
		effects = append(effects, EffectKill{JobId: e.JobId})
	}
	// Waiting for layers or a slot: nothing has been started yet, so
	// there is nothing to kill, only to forget and release.
	return next, effects
}
