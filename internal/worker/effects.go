// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// Effect is something the driver loop must do outside of Reduce:
// every one of these touches the cache, the slot pool, the network,
// or the sandbox, none of which Reduce is allowed to touch directly
// (spec §5/§9).
type Effect interface{ isEffect() }

// EffectFetchLayer asks the driver to pin digest in the cache,
// fetching it from the broker first if it is not yet resident.
type EffectFetchLayer struct {
	JobId  proto.JobId
	Digest digest.Digest
}

// EffectEnqueue asks the driver's SlotPool to admit a job that has
// become Ready (every layer resident).
type EffectEnqueue struct {
	JobId    proto.JobId
	Priority int32
	Seq      uint64
}

// EffectRun asks the driver to actually start executing a job once a
// slot has been acquired for it.
type EffectRun struct {
	JobId proto.JobId
	Spec  proto.JobSpec
}

// EffectKill asks the driver to kill a job's subprocess and release
// its slot without reporting an outcome (spec §4.3: Slot scheduling,
// cancellation).
type EffectKill struct {
	JobId proto.JobId
}

// EffectReportStatus asks the driver to send a WorkerJobStatusUpdate
// to the broker.
type EffectReportStatus struct {
	JobId  proto.JobId
	Status proto.WorkerStatus
}

// EffectReportOutcome asks the driver to send a WorkerJobOutcome to
// the broker and forget the job.
type EffectReportOutcome struct {
	JobId   proto.JobId
	Outcome proto.Outcome
}

// EffectReleaseHandles asks the driver to drop every cache handle it
// holds for a job. Reduce raises this whenever a job is forgotten
// from state outside the normal outcome-reporting path (namely
// cancellation), since a job can have layers pinned for it regardless
// of which phase it is cancelled from.
type EffectReleaseHandles struct {
	JobId proto.JobId
}

func (EffectFetchLayer) isEffect()     {}
func (EffectEnqueue) isEffect()        {}
func (EffectRun) isEffect()            {}
func (EffectKill) isEffect()           {}
func (EffectReportStatus) isEffect()   {}
func (EffectReportOutcome) isEffect()  {}
func (EffectReleaseHandles) isEffect() {}
