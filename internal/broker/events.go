// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// Event is the closed union of things that can happen to the broker
// control plane (spec §4.4, §5, §9).
type Event interface{ isEvent() }

// EventClientConnected admits a client's presence; its Hello message.
type EventClientConnected struct {
	ClientId proto.ClientId
}

// EventClientDisconnected is a client PeerLost (spec §7): every job it
// submitted is cancelled.
type EventClientDisconnected struct {
	ClientId proto.ClientId
}

// EventWorkerConnected admits a worker's presence; its Hello message.
type EventWorkerConnected struct {
	WorkerId proto.WorkerId
	Capacity int
}

// EventWorkerDisconnected is a worker PeerLost (spec §7): every job
// Assigned to it re-enters Ready.
type EventWorkerDisconnected struct {
	WorkerId proto.WorkerId
}

// EventRunJob is a client's job submission.
type EventRunJob struct {
	ClientId    proto.ClientId
	ClientJobId proto.ClientJobId
	Spec        proto.JobSpec
}

// EventCancelJob is a client's cancellation of a job it submitted,
// valid at any phase.
type EventCancelJob struct {
	JobId proto.JobId
}

// EventArtifactKnown is delivered once a digest becomes resident in
// the broker's own cache (having been pushed by the owning client),
// unblocking every job that was waiting on it.
type EventArtifactKnown struct {
	Digest   digest.Digest
	ClientId proto.ClientId
}

// EventWorkerJobStatusUpdate relays a worker's JobStatusUpdate.
type EventWorkerJobStatusUpdate struct {
	WorkerId proto.WorkerId
	JobId    proto.JobId
	Status   proto.WorkerStatus
}

// EventWorkerJobOutcome relays a worker's terminal JobOutcome.
type EventWorkerJobOutcome struct {
	WorkerId proto.WorkerId
	JobId    proto.JobId
	Outcome  proto.Outcome
}

func (EventClientConnected) isEvent()       {}
func (EventClientDisconnected) isEvent()    {}
func (EventWorkerConnected) isEvent()       {}
func (EventWorkerDisconnected) isEvent()    {}
func (EventRunJob) isEvent()                {}
func (EventCancelJob) isEvent()             {}
func (EventArtifactKnown) isEvent()         {}
func (EventWorkerJobStatusUpdate) isEvent() {}
func (EventWorkerJobOutcome) isEvent()      {}
