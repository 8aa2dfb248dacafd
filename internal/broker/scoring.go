// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sort"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// ineligibleScore is the sentinel returned for a worker that cannot
// take a job at all. Any non-negative score is eligible.
const ineligibleScore = -1

// workerCandidate pairs a worker with its placement score for one
// job. Returned by candidateWorkers in descending-preference order.
type workerCandidate struct {
	workerId     proto.WorkerId
	score        int
	inFlight     int
	connectedSeq uint64
}

// scoreWorker evaluates a single worker for hosting job, per spec
// §4.4's dispatch policy. Returns ineligibleScore if the worker has no
// free slot, or a non-negative score scaled by digest-overlap with
// the worker's known_digests (cache warmth / locality). The function
// is pure: it only reads w and digests.
func scoreWorker(w *workerRecord, digests []digest.Digest) int {
	if w.inFlight >= w.capacity {
		return ineligibleScore
	}

	overlap := 0
	for _, d := range digests {
		if w.knownDigests[d] {
			overlap++
		}
	}

	// Scaled into a high range so integer overlap counts (typically
	// single digits) still produce a score with enough headroom for
	// future weighted components without floating point.
	return overlap * 1000
}

// candidateWorkers returns every eligible worker for job's digests,
// sorted by score descending. Remaining ties are broken by lowest
// in_flight_count, then by connection arrival order, for determinism
// (spec §4.4: "ties broken by lowest in_flight_count, then
// round-robin").
func candidateWorkers(workers map[proto.WorkerId]*workerRecord, digests []digest.Digest) []workerCandidate {
	var candidates []workerCandidate
	for id, w := range workers {
		score := scoreWorker(w, digests)
		if score == ineligibleScore {
			continue
		}
		candidates = append(candidates, workerCandidate{
			workerId:     id,
			score:        score,
			inFlight:     w.inFlight,
			connectedSeq: w.connectedSeq,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.inFlight != b.inFlight {
			return a.inFlight < b.inFlight
		}
		return a.connectedSeq < b.connectedSeq
	})
	return candidates
}

// selectWorker returns the single best worker for job's digests, if any.
func selectWorker(workers map[proto.WorkerId]*workerRecord, digests []digest.Digest) (proto.WorkerId, bool) {
	candidates := candidateWorkers(workers, digests)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[0].workerId, true
}
