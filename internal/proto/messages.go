// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package proto

import (
	"fmt"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

// Envelope is the tagged-union wrapper every framed message travels
// in: Kind selects which concrete Go type Body decodes into. This
// mirrors the project's "Action string" dispatch convention for
// CBOR-encoded IPC requests, generalized to a bidirectional,
// unsolicited message stream instead of a request/response call.
type Envelope struct {
	Kind string `cbor:"kind"`
	Body []byte `cbor:"body"`
}

// Encode wraps v into an Envelope tagged with kind.
func Encode(kind string, v any) (Envelope, error) {
	body, err := wire.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s message: %w", kind, err)
	}
	return Envelope{Kind: kind, Body: body}, nil
}

// Decode unmarshals the Envelope's body into v.
func (e Envelope) Decode(v any) error {
	if err := wire.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decoding %s message: %w", e.Kind, err)
	}
	return nil
}

// --- Client -> Broker (spec §4.5) ---

const (
	KindClientHello            = "client.hello"
	KindRunJob                 = "run_job"
	KindCancelJob              = "cancel_job"
	KindArtifactPushReady      = "artifact_push_ready"
	KindArtifactEnd            = "artifact_end"
)

type ClientHello struct {
	ClientId ClientId `cbor:"client_id"`
}

type RunJob struct {
	JobId ClientJobId `cbor:"job_id"`
	Spec  JobSpec     `cbor:"spec"`
}

type CancelJob struct {
	JobId JobId `cbor:"job_id"`
}

// ArtifactPushReady announces that the sender is about to stream Size
// raw bytes for Digest as the immediately following body (spec §4.1:
// bodies are a separate, unframed byte sequence of known length).
type ArtifactPushReady struct {
	Digest digest.Digest `cbor:"digest"`
	Size   int64         `cbor:"size"`
}

// ArtifactEnd confirms the Size bytes announced by ArtifactPushReady
// were fully sent.
type ArtifactEnd struct {
	Digest digest.Digest `cbor:"digest"`
}

// --- Broker -> Client (spec §4.5) ---

const (
	KindArtifactRequest  = "artifact_request"
	KindJobStatusUpdate  = "job_status_update"
	KindJobOutcome       = "job_outcome"
)

type ArtifactRequest struct {
	Digest digest.Digest `cbor:"digest"`
}

type JobStatusUpdateMsg struct {
	JobId  JobId     `cbor:"job_id"`
	Status JobStatus `cbor:"status"`
}

type JobOutcomeMsg struct {
	JobId   JobId   `cbor:"job_id"`
	Outcome Outcome `cbor:"outcome"`
}

// --- Worker -> Broker (spec §4.6) ---

const (
	KindWorkerHello             = "worker.hello"
	KindWorkerJobStatusUpdate   = "worker_job_status_update"
	KindWorkerJobOutcome        = "worker_job_outcome"
	KindArtifactPullRequest     = "artifact_pull_request"
)

type WorkerHello struct {
	Capacity int `cbor:"capacity"`
}

type WorkerJobStatusUpdate struct {
	JobId  JobId        `cbor:"job_id"`
	Status WorkerStatus `cbor:"status"`
}

type WorkerJobOutcome struct {
	JobId   JobId   `cbor:"job_id"`
	Outcome Outcome `cbor:"outcome"`
}

type ArtifactPullRequest struct {
	Digest digest.Digest `cbor:"digest"`
}

// --- Broker -> Worker (spec §4.6) ---

const (
	KindAssignJob            = "assign_job"
	KindWorkerCancelJob      = "worker_cancel_job"
	KindArtifactPullResponse = "artifact_pull_response"
)

type AssignJob struct {
	JobId JobId   `cbor:"job_id"`
	Spec  JobSpec `cbor:"spec"`
}

type WorkerCancelJob struct {
	JobId JobId `cbor:"job_id"`
}

// ArtifactPullResponse announces Size raw bytes for Digest follow as
// the body, or that the pull failed (Found=false, in which case no
// body follows). On a failed pull the worker's fetch of that digest
// fails; the worker does not retry the pull and reports no outcome for
// the job that needed it.
type ArtifactPullResponse struct {
	Digest digest.Digest `cbor:"digest"`
	Found  bool          `cbor:"found"`
	Size   int64         `cbor:"size,omitempty"`
}
