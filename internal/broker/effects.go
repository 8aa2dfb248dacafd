// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// Effect is something the driver loop must do outside of Reduce:
// every one of these sends a message on a socket (spec §5/§9).
type Effect interface{ isEffect() }

// EffectRequestArtifact asks the driver to send an ArtifactRequest to
// the client holding a digest a just-admitted job needs.
type EffectRequestArtifact struct {
	Digest     digest.Digest
	FromClient proto.ClientId
}

// EffectAssignJob asks the driver to send AssignJob to a worker.
type EffectAssignJob struct {
	WorkerId proto.WorkerId
	JobId    proto.JobId
	Spec     proto.JobSpec
}

// EffectCancelAtWorker asks the driver to forward a cancellation to
// the worker a job was Assigned to.
type EffectCancelAtWorker struct {
	WorkerId proto.WorkerId
	JobId    proto.JobId
}

// EffectForwardStatus asks the driver to send a JobStatusUpdate to the
// originating client.
type EffectForwardStatus struct {
	ClientId proto.ClientId
	JobId    proto.JobId
	Status   proto.JobStatus
}

// EffectForwardOutcome asks the driver to send a JobOutcome to the
// originating client.
type EffectForwardOutcome struct {
	ClientId proto.ClientId
	JobId    proto.JobId
	Outcome  proto.Outcome
}

func (EffectRequestArtifact) isEffect() {}
func (EffectAssignJob) isEffect()       {}
func (EffectCancelAtWorker) isEffect()  {}
func (EffectForwardStatus) isEffect()   {}
func (EffectForwardOutcome) isEffect()  {}
