// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package broker

// Reduce is the broker control plane's pure transition function
// (spec §4.4/§5/§9). Every event that could create a new (Ready job,
// eligible worker) pair is followed by a dispatch pass, so the
// driver never needs to remember to ask for one separately.
func Reduce(state State, event Event) (State, []Effect) {
	next := state.clone()
	var effects []Effect

	switch e := event.(type) {
	case EventClientConnected:
		next, effects = reduceClientConnected(next, e)
	case EventClientDisconnected:
		next, effects = reduceClientDisconnected(next, e)
	case EventWorkerConnected:
		next, effects = reduceWorkerConnected(next, e)
	case EventWorkerDisconnected:
		next, effects = reduceWorkerDisconnected(next, e)
	case EventRunJob:
		next, effects = reduceRunJob(next, e)
	case EventCancelJob:
		next, effects = reduceCancelJob(next, e)
	case EventArtifactKnown:
		next, effects = reduceArtifactKnown(next, e)
	case EventWorkerJobStatusUpdate:
		next, effects = reduceWorkerJobStatusUpdate(next, e)
	case EventWorkerJobOutcome:
		next, effects = reduceWorkerJobOutcome(next, e)
	}

	dispatched, dispatchEffects := tryDispatch(next)
	return dispatched, append(effects, dispatchEffects...)
}
