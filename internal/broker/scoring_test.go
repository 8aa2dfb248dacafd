// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"testing"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

func TestScoreWorkerIneligibleWhenFull(t *testing.T) {
	w := &workerRecord{capacity: 1, inFlight: 1, knownDigests: map[digest.Digest]bool{}}
	if got := scoreWorker(w, nil); got != ineligibleScore {
		t.Fatalf("scoreWorker = %d, want ineligibleScore", got)
	}
}

func TestScoreWorkerRewardsDigestOverlap(t *testing.T) {
	d1 := digest.SumBytes([]byte("a"))
	d2 := digest.SumBytes([]byte("b"))
	w := &workerRecord{capacity: 2, inFlight: 0, knownDigests: map[digest.Digest]bool{d1: true}}

	none := scoreWorker(w, nil)
	one := scoreWorker(w, []digest.Digest{d1})
	both := scoreWorker(w, []digest.Digest{d1, d2})

	if none != 0 {
		t.Fatalf("none = %d, want 0", none)
	}
	if one <= none {
		t.Fatalf("one = %d, want > none (%d)", one, none)
	}
	if both != one {
		t.Fatalf("both = %d, want == one (%d): d2 is unknown to the worker, so the overlap is still one digest", both, one)
	}
}

func TestCandidateWorkersBreaksTiesByInFlightThenConnectedSeq(t *testing.T) {
	workers := map[proto.WorkerId]*workerRecord{
		"busier": {capacity: 4, inFlight: 2, knownDigests: map[digest.Digest]bool{}, connectedSeq: 0},
		"idle":   {capacity: 4, inFlight: 0, knownDigests: map[digest.Digest]bool{}, connectedSeq: 1},
		"later":  {capacity: 4, inFlight: 0, knownDigests: map[digest.Digest]bool{}, connectedSeq: 2},
	}

	candidates := candidateWorkers(workers, nil)
	if len(candidates) != 3 {
		t.Fatalf("len(candidates) = %d, want 3", len(candidates))
	}
	if candidates[0].workerId != "idle" {
		t.Fatalf("candidates[0] = %s, want idle (lowest in_flight)", candidates[0].workerId)
	}
	if candidates[1].workerId != "later" {
		t.Fatalf("candidates[1] = %s, want later (lower in_flight than busier outranks busier's earlier connectedSeq)", candidates[1].workerId)
	}
}

func TestSelectWorkerReturnsFalseWhenNoneEligible(t *testing.T) {
	workers := map[proto.WorkerId]*workerRecord{
		"full": {capacity: 1, inFlight: 1, knownDigests: map[digest.Digest]bool{}},
	}
	if _, ok := selectWorker(workers, nil); ok {
		t.Fatal("expected no eligible worker")
	}
}
