// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

func hasEffect[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func countEffect[T Effect](effects []Effect) int {
	n := 0
	for _, e := range effects {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

func TestRunJobWithUnknownDigestWaitsForLayers(t *testing.T) {
	state := NewState()
	dig := digest.SumBytes([]byte("layer"))
	spec := proto.JobSpec{Container: proto.ContainerSpec{
		Layers: []proto.Layer{{Digest: dig, Type: proto.ArtifactTar}},
	}}

	state, effects := Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: spec})

	if !hasEffect[EffectRequestArtifact](effects) {
		t.Fatal("expected EffectRequestArtifact for the unknown digest")
	}
	status, ok := state.JobStatus("c1:j1")
	if !ok || status.Phase != "waiting_for_layers" {
		t.Fatalf("status = %v, %v; want waiting_for_layers", status, ok)
	}
}

func TestRunJobWithNoLayersIsReadyImmediately(t *testing.T) {
	state := NewState()
	state, effects := Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: proto.JobSpec{}})

	status, ok := state.JobStatus("c1:j1")
	if !ok || status.Phase != "waiting_for_worker" {
		t.Fatalf("status = %v, %v; want waiting_for_worker", status, ok)
	}
	if hasEffect[EffectAssignJob](effects) {
		t.Fatal("did not expect an assignment with no connected worker")
	}
}

func TestArtifactKnownAdvancesAndDispatches(t *testing.T) {
	state := NewState()
	dig := digest.SumBytes([]byte("layer"))
	spec := proto.JobSpec{Container: proto.ContainerSpec{
		Layers: []proto.Layer{{Digest: dig, Type: proto.ArtifactTar}},
	}}

	state, _ = Reduce(state, EventWorkerConnected{WorkerId: "w1", Capacity: 1})
	state, _ = Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: spec})

	state, effects := Reduce(state, EventArtifactKnown{Digest: dig, ClientId: "c1"})

	if !hasEffect[EffectAssignJob](effects) {
		t.Fatal("expected the now-Ready job to be dispatched to the idle worker")
	}
	status, ok := state.JobStatus("c1:j1")
	if !ok || status.Phase != "at_worker" || status.WorkerId != "w1" {
		t.Fatalf("status = %v, %v; want at_worker(w1)", status, ok)
	}
}

func TestDispatchPrefersWorkerWithLocality(t *testing.T) {
	state := NewState()
	dig := digest.SumBytes([]byte("layer"))

	state, _ = Reduce(state, EventWorkerConnected{WorkerId: "cold", Capacity: 1})
	state, _ = Reduce(state, EventWorkerConnected{WorkerId: "warm", Capacity: 1})
	state.workers["warm"].knownDigests[dig] = true

	spec := proto.JobSpec{Container: proto.ContainerSpec{
		Layers: []proto.Layer{{Digest: dig, Type: proto.ArtifactTar}},
	}}
	state, _ = Reduce(state, EventArtifactKnown{Digest: dig, ClientId: "c1"})
	state, effects := Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: spec})

	var assign EffectAssignJob
	found := false
	for _, e := range effects {
		if a, ok := e.(EffectAssignJob); ok {
			assign, found = a, true
		}
	}
	if !found {
		t.Fatal("expected a dispatch")
	}
	if assign.WorkerId != "warm" {
		t.Fatalf("dispatched to %s, want the worker with locality (warm)", assign.WorkerId)
	}
}

func TestDispatchRespectsCapacity(t *testing.T) {
	state := NewState()
	state, _ = Reduce(state, EventWorkerConnected{WorkerId: "w1", Capacity: 1})
	state, _ = Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: proto.JobSpec{}})
	state, effects := Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j2", Spec: proto.JobSpec{}})

	if countEffect[EffectAssignJob](effects) != 0 {
		t.Fatal("did not expect a second assignment once the single slot is full")
	}
	status, _ := state.JobStatus("c1:j1")
	if status.Phase != "at_worker" {
		t.Fatalf("j1 status = %v, want at_worker", status)
	}
	status, _ = state.JobStatus("c1:j2")
	if status.Phase != "waiting_for_worker" {
		t.Fatalf("j2 status = %v, want waiting_for_worker", status)
	}
}

func TestCancelAssignedJobFreesTheSlotAndDropsTheOutcome(t *testing.T) {
	state := NewState()
	state, _ = Reduce(state, EventWorkerConnected{WorkerId: "w1", Capacity: 1})
	state, _ = Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: proto.JobSpec{}})

	state, effects := Reduce(state, EventCancelJob{JobId: "c1:j1"})
	if !hasEffect[EffectCancelAtWorker](effects) {
		t.Fatal("expected EffectCancelAtWorker for an Assigned job")
	}

	// A late outcome for the now-forgotten job must be dropped, not forwarded.
	state, effects = Reduce(state, EventWorkerJobOutcome{WorkerId: "w1", JobId: "c1:j1", Outcome: proto.Outcome{Kind: proto.OutcomeCompleted}})
	if hasEffect[EffectForwardOutcome](effects) {
		t.Fatal("did not expect the late outcome of a cancelled job to be forwarded")
	}

	// The slot should be free again for a second job.
	state, effects = Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j2", Spec: proto.JobSpec{}})
	if !hasEffect[EffectAssignJob](effects) {
		t.Fatal("expected the freed slot to admit a new job")
	}
}

func TestWorkerDisconnectRequeuesAssignedJobs(t *testing.T) {
	state := NewState()
	state, _ = Reduce(state, EventWorkerConnected{WorkerId: "w1", Capacity: 1})
	state, _ = Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: proto.JobSpec{}})

	status, _ := state.JobStatus("c1:j1")
	if status.Phase != "at_worker" {
		t.Fatalf("status = %v, want at_worker before disconnect", status)
	}

	state, _ = Reduce(state, EventWorkerDisconnected{WorkerId: "w1"})
	status, ok := state.JobStatus("c1:j1")
	if !ok || status.Phase != "waiting_for_worker" {
		t.Fatalf("status = %v, %v; want the job re-queued as waiting_for_worker", status, ok)
	}
}

func TestClientDisconnectCancelsItsJobs(t *testing.T) {
	state := NewState()
	state, _ = Reduce(state, EventRunJob{ClientId: "c1", ClientJobId: "j1", Spec: proto.JobSpec{}})
	state, _ = Reduce(state, EventClientDisconnected{ClientId: "c1"})

	if _, ok := state.JobStatus("c1:j1"); ok {
		t.Fatal("expected the client's job to be forgotten after disconnect")
	}
}

func TestFairnessInterleavesClientsWithinAPriorityTier(t *testing.T) {
	state := NewState()
	// No worker connected, so nothing dispatches; only ordering is under test.
	state, _ = Reduce(state, EventRunJob{ClientId: "a", ClientJobId: "1", Spec: proto.JobSpec{}})
	state, _ = Reduce(state, EventRunJob{ClientId: "a", ClientJobId: "2", Spec: proto.JobSpec{}})
	state, _ = Reduce(state, EventRunJob{ClientId: "b", ClientJobId: "1", Spec: proto.JobSpec{}})

	order := readyJobOrder(state.jobs)
	if len(order) != 3 {
		t.Fatalf("len(order) = %d, want 3", len(order))
	}
	// b's single job should be interleaved before a's second job, not
	// stuck behind both of a's jobs.
	positionOf := func(id proto.JobId) int {
		for i, j := range order {
			if j == id {
				return i
			}
		}
		return -1
	}
	if positionOf("b:1") > positionOf("a:2") {
		t.Fatalf("order = %v, want b:1 interleaved ahead of a:2", order)
	}
}
