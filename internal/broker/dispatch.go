// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sort"

	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// readyJobOrder lists every Ready job in the order dispatch should
// consider them: highest priority first; within a priority tier,
// interleaved round robin across clients rather than strict global
// FIFO, so one client's large batch cannot starve another's single
// job (spec §4.4: "Fairness (per-client)").
func readyJobOrder(jobs map[proto.JobId]*jobRecord) []proto.JobId {
	byPriority := make(map[int32][]proto.JobId)
	for id, rec := range jobs {
		if rec.phase == jobPhaseReady {
			byPriority[rec.spec.Priority] = append(byPriority[rec.spec.Priority], id)
		}
	}

	priorities := make([]int32, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] > priorities[j] })

	var order []proto.JobId
	for _, p := range priorities {
		order = append(order, roundRobinByClient(jobs, byPriority[p])...)
	}
	return order
}

// roundRobinByClient interleaves ids (already known to share a
// priority tier) one-per-client in repeated passes, each client's own
// jobs kept in submission order (seq ascending). Client visitation
// order is sorted for determinism, matching this package's scoring
// tie-break convention.
func roundRobinByClient(jobs map[proto.JobId]*jobRecord, ids []proto.JobId) []proto.JobId {
	sorted := make([]proto.JobId, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return jobs[sorted[i]].seq < jobs[sorted[j]].seq })

	byClient := make(map[proto.ClientId][]proto.JobId)
	var clientOrder []proto.ClientId
	seen := make(map[proto.ClientId]bool)
	for _, id := range sorted {
		c := jobs[id].clientId
		byClient[c] = append(byClient[c], id)
		if !seen[c] {
			seen[c] = true
			clientOrder = append(clientOrder, c)
		}
	}
	sort.Slice(clientOrder, func(i, j int) bool { return clientOrder[i] < clientOrder[j] })

	var out []proto.JobId
	for {
		progressed := false
		for _, c := range clientOrder {
			if len(byClient[c]) == 0 {
				continue
			}
			out = append(out, byClient[c][0])
			byClient[c] = byClient[c][1:]
			progressed = true
		}
		if !progressed {
			return out
		}
	}
}

// tryDispatch greedily assigns every Ready job it can to an eligible
// worker, re-evaluating order and scores after each assignment since
// a worker's in_flight_count just changed. It is pure: State.clone
// already happened in Reduce before this is called, so mutating next
// here is safe.
func tryDispatch(next State) (State, []Effect) {
	var effects []Effect
	for {
		assigned := false
		for _, jobId := range readyJobOrder(next.jobs) {
			rec := next.jobs[jobId]
			workerId, ok := selectWorker(next.workers, rec.digests)
			if !ok {
				continue
			}

			w := next.workers[workerId]
			w.inFlight++
			rec.phase = jobPhaseAssigned
			rec.workerId = workerId

			effects = append(effects,
				EffectAssignJob{WorkerId: workerId, JobId: jobId, Spec: rec.spec},
				EffectForwardStatus{
					ClientId: rec.clientId,
					JobId:    jobId,
					Status:   proto.JobStatus{Phase: "at_worker", WorkerId: workerId},
				},
			)
			assigned = true
			break
		}
		if !assigned {
			return next, effects
		}
	}
}
