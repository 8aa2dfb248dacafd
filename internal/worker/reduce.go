// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package worker

// Reduce is the worker control plane's pure transition function (spec
// §5/§9). It never performs I/O: it only decides what the driver loop
// should do next, returned as Effects.
func Reduce(state State, event Event) (State, []Effect) {
	next := state.clone()

	switch e := event.(type) {
	case EventAssignJob:
		return reduceAssignJob(next, e)
	case EventLayerReady:
		return reduceLayerReady(next, e)
	case EventSlotAcquired:
		return reduceSlotAcquired(next, e)
	case EventJobFinished:
		return reduceJobFinished(next, e)
	case EventCancelJob:
		return reduceCancelJob(next, e)
	default:
		return next, nil
	}
}
