// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// Event is the closed union of things that can happen to the worker
// control plane (spec §5/§9: explicit state machine).
type Event interface{ isEvent() }

// EventAssignJob is delivered when the broker assigns a job to this worker.
type EventAssignJob struct {
	JobId   proto.JobId
	Spec    proto.JobSpec
	Digests []digest.Digest // flattened from Spec.Container.Layers by the driver
}

// EventLayerReady is delivered once a single digest the job was
// waiting on becomes Resident in the cache.
type EventLayerReady struct {
	JobId  proto.JobId
	Digest digest.Digest
}

// EventSlotAcquired is delivered when the driver's SlotPool hands a
// queued job a free slot.
type EventSlotAcquired struct {
	JobId proto.JobId
}

// EventJobFinished is delivered when Executor.Execute returns a
// terminal Outcome for a job that was not cancelled.
type EventJobFinished struct {
	JobId   proto.JobId
	Outcome proto.Outcome
}

// EventCancelJob is delivered when the broker cancels a job, at any phase.
type EventCancelJob struct {
	JobId proto.JobId
}

func (EventAssignJob) isEvent()    {}
func (EventLayerReady) isEvent()   {}
func (EventSlotAcquired) isEvent() {}
func (EventJobFinished) isEvent()  {}
func (EventCancelJob) isEvent()    {}
