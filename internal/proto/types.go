// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package proto defines the data model (spec §3) and wire message
// schemas (spec §4.5, §4.6) shared by the broker, worker, and client.
// Types are plain structs with cbor tags, encoded through
// internal/wire — there is no generated code and no separate
// serialization type hierarchy, matching the project's convention of
// hand-written CBOR-tagged structs for IPC payloads.
package proto

import (
	"github.com/maelstrom-ci/maelstrom/internal/digest"
)

// ArtifactType distinguishes a raw archive from a structured manifest
// that references further digests (spec §3: Artifact).
type ArtifactType string

const (
	ArtifactTar      ArtifactType = "tar"
	ArtifactManifest ArtifactType = "manifest"
)

// Layer references an artifact that will be stacked into a job's
// root filesystem. Order within ContainerSpec.Layers is significant:
// later layers shadow earlier ones.
type Layer struct {
	Digest digest.Digest `cbor:"digest"`
	Type   ArtifactType  `cbor:"type"`
}

// Manifest is the structured artifact type: a list of child digests
// that a manifest-typed Layer expands to, enabling deduplicated layer
// reuse (spec §3: Artifact).
type Manifest struct {
	// Entries maps a path (relative to the layer root) to the digest
	// of a Tar artifact materializing that subtree, or to another
	// Manifest for nested deduplication.
	Entries []ManifestEntry `cbor:"entries"`
}

// ManifestEntry is one child reference inside a Manifest.
type ManifestEntry struct {
	Path string `cbor:"path"`
	Ref  Layer  `cbor:"ref"`
}

// OverlayMode selects how the layer stack becomes the job's root
// filesystem (spec §4.3).
type OverlayMode string

const (
	OverlayNone  OverlayMode = "none"
	OverlayTmp   OverlayMode = "tmp"
	OverlayLocal OverlayMode = "local"
)

// NetworkMode selects the job's network namespace treatment.
type NetworkMode string

const (
	NetworkDisabled NetworkMode = "disabled"
	NetworkLoopback NetworkMode = "loopback"
	NetworkLocal    NetworkMode = "local"
)

// MountKind enumerates the mount types a ContainerSpec can request.
type MountKind string

const (
	MountProc   MountKind = "proc"
	MountSys    MountKind = "sys"
	MountTmp    MountKind = "tmp"
	MountDevpts MountKind = "devpts"
	MountMqueue MountKind = "mqueue"
	MountBind   MountKind = "bind"
	MountDevice MountKind = "device"
)

// Mount describes one filesystem mount or device node to create
// inside the assembled root (spec §4.3 step 4). Fields other than
// Kind are only meaningful for the kinds that use them.
type Mount struct {
	Kind MountKind `cbor:"kind"`

	// Dest is the mount point, relative to the sandbox root.
	Dest string `cbor:"dest,omitempty"`

	// Source and ReadOnly apply to MountBind.
	Source   string `cbor:"source,omitempty"`
	ReadOnly bool   `cbor:"read_only,omitempty"`

	// DevicePath, Major, Minor apply to MountDevice.
	DevicePath string `cbor:"device_path,omitempty"`
	Major      uint32 `cbor:"major,omitempty"`
	Minor      uint32 `cbor:"minor,omitempty"`
}

// EnvVar is one environment variable entry. When Extend is true, the
// value is appended (":"-joined, PATH-style) to any inherited value of
// the same name rather than replacing it (spec §3: ContainerSpec).
type EnvVar struct {
	Name   string `cbor:"name"`
	Value  string `cbor:"value"`
	Extend bool   `cbor:"extend,omitempty"`
}

// ContainerSpec is the full description of a job's execution
// environment (spec §3).
type ContainerSpec struct {
	Layers      []Layer     `cbor:"layers"`
	Environment []EnvVar    `cbor:"environment,omitempty"`
	Mounts      []Mount     `cbor:"mounts,omitempty"`
	Overlay     OverlayMode `cbor:"overlay"`
	Network     NetworkMode `cbor:"network"`

	// UID/GID default to 0/0 (root inside the sandbox user namespace).
	UID *uint32 `cbor:"uid,omitempty"`
	GID *uint32 `cbor:"gid,omitempty"`

	WorkingDirectory string `cbor:"working_directory,omitempty"`

	// Image names a base image this spec inherits layers, environment,
	// and working directory from before its own fields are applied.
	// Image resolution (OCI download) is out of scope (spec §1); here
	// Image is an opaque name resolved by the client-side tooling into
	// the layers already present below.
	Image string `cbor:"image,omitempty"`
}

// JobSpec is a full job submission: a container plus what to run in it.
type JobSpec struct {
	Container ContainerSpec `cbor:"container"`

	Program string   `cbor:"program"`
	Args    []string `cbor:"args,omitempty"`

	// Timeout of zero means no timeout.
	TimeoutSeconds float64 `cbor:"timeout_seconds,omitempty"`

	TTY bool `cbor:"tty,omitempty"`

	// Priority: higher wins (spec §4.4 dispatch policy; Open Question 2
	// resolved as signed, higher-wins).
	Priority int32 `cbor:"priority,omitempty"`

	// EstimatedDuration is informational only — never consulted by the
	// dispatch scorer (spec §4.4, Open Question 3).
	EstimatedDurationSeconds float64 `cbor:"estimated_duration_seconds,omitempty"`
}

// ClientJobId is a client-local job identifier, unique within that
// client's connection.
type ClientJobId string

// JobId is globally unique: the broker prefixes a ClientJobId with a
// client-scoped namespace when it admits the job.
type JobId string

// WorkerId is assigned by the broker when a worker connects; valid
// only for the lifetime of that connection.
type WorkerId string

// ClientId identifies a connected client for the lifetime of its
// connection.
type ClientId string

// OutcomeKind discriminates the terminal result of a job (spec §3: Outcome).
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeTimedOut  OutcomeKind = "timed_out"
	OutcomeError     OutcomeKind = "error"
)

// ErrorKind distinguishes the two failure categories from spec §7.
type ErrorKind string

const (
	ErrorExecution ErrorKind = "execution"
	ErrorSystem    ErrorKind = "system"
)

// CapturedOutput is a stream captured up to an inline limit, with the
// excess counted but discarded (spec §4.3: Output capture).
type CapturedOutput struct {
	Data      []byte `cbor:"data"`
	Truncated int64  `cbor:"truncated,omitempty"`
}

// Outcome is the terminal result reported for a job.
type Outcome struct {
	Kind OutcomeKind `cbor:"kind"`

	// Completed / TimedOut fields.
	ExitCode *int32          `cbor:"exit_code,omitempty"`
	Signal   *int32          `cbor:"signal,omitempty"`
	Stdout   *CapturedOutput `cbor:"stdout,omitempty"`
	Stderr   *CapturedOutput `cbor:"stderr,omitempty"`
	Duration float64         `cbor:"duration,omitempty"`

	// Error fields.
	ErrorKind    ErrorKind `cbor:"error_kind,omitempty"`
	ErrorMessage string    `cbor:"error_message,omitempty"`
}

// AtWorkerPhase is the sub-state of a job once it has been assigned
// to a worker (spec §4.5: Status updates).
type AtWorkerPhase string

const (
	AtWorkerWaitingForLayers  AtWorkerPhase = "waiting_for_layers"
	AtWorkerWaitingToExecute AtWorkerPhase = "waiting_to_execute"
	AtWorkerExecuting        AtWorkerPhase = "executing"
)

// JobStatus is the client-facing status projection (spec §4.5).
type JobStatus struct {
	Phase string `cbor:"phase"` // "waiting_for_layers" | "waiting_for_worker" | "at_worker"

	WorkerId  WorkerId      `cbor:"worker_id,omitempty"`
	AtWorker  AtWorkerPhase `cbor:"at_worker,omitempty"`
}

// WorkerStatus is the worker-facing status projection the worker
// reports to the broker (spec §4.6: JobStatusUpdate).
type WorkerStatus string

const (
	WorkerStatusWaitingForLayers WorkerStatus = "waiting_for_layers"
	WorkerStatusWaitingToExecute WorkerStatus = "waiting_to_execute"
	WorkerStatusExecuting        WorkerStatus = "executing"
)
