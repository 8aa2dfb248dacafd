// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package e2e exercises the broker and worker control planes together
// across a real wire connection (spec §8, scenario E1's dispatch
// half), complementing the fake-link unit tests each package already
// has on its own. Like those packages' own tests, it stops short of
// starting a sandboxed process — that needs a real bwrap binary on
// the test host and is left to manual/integration testing, the same
// boundary internal/worker's driver_test.go already draws.
package e2e

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/maelstrom-ci/maelstrom/internal/broker"
	"github.com/maelstrom-ci/maelstrom/internal/cache"
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
	"github.com/maelstrom-ci/maelstrom/internal/worker"
)

// pipeWorkerLink is the broker's view of a worker connected over an
// in-memory net.Pipe, a stand-in for cmd/maelstrom-broker's real
// workerConn.
type pipeWorkerLink struct {
	conn net.Conn
}

func (l *pipeWorkerLink) AssignJob(workerId proto.WorkerId, jobId proto.JobId, spec proto.JobSpec) error {
	envelope, err := proto.Encode(proto.KindAssignJob, proto.AssignJob{JobId: jobId, Spec: spec})
	if err != nil {
		return err
	}
	return wire.WriteMessage(l.conn, envelope)
}

func (l *pipeWorkerLink) CancelJob(workerId proto.WorkerId, jobId proto.JobId) error {
	envelope, err := proto.Encode(proto.KindWorkerCancelJob, proto.WorkerCancelJob{JobId: jobId})
	if err != nil {
		return err
	}
	return wire.WriteMessage(l.conn, envelope)
}

// noopClientLink answers RequestArtifact/ForwardStatus/ForwardOutcome
// without a real client connection; this scenario's job carries no
// layers, so RequestArtifact is never actually called.
type noopClientLink struct{}

func (noopClientLink) RequestArtifact(proto.ClientId, digest.Digest) error { return nil }
func (noopClientLink) ForwardStatus(proto.ClientId, proto.JobId, proto.JobStatus) error {
	return nil
}
func (noopClientLink) ForwardOutcome(proto.ClientId, proto.JobId, proto.Outcome) error {
	return nil
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Options{Dir: t.TempDir(), MaxBytes: 64 << 20})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

// TestJobDispatchedOverWireReachesWorker admits a client job with no
// layers and a connected worker, then confirms the broker's
// EffectAssignJob travels as a real encoded AssignJob message, is
// decoded on the other end of the pipe, and drives the worker's own
// Driver to WaitingToExecute — the full client-submits-through-
// worker-assigns path, minus the process exec Execute would need.
func TestJobDispatchedOverWireReachesWorker(t *testing.T) {
	brokerConn, workerConn := net.Pipe()
	defer brokerConn.Close()
	defer workerConn.Close()

	brokerDriver := broker.NewDriver(newTestCache(t), noopClientLink{}, &pipeWorkerLink{conn: brokerConn})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go brokerDriver.Run(ctx)

	workerDriver := worker.NewDriver(newTestCache(t), worker.NewSlotPool(0), &worker.Executor{}, noopBrokerLink{})
	go workerDriver.Run(ctx)

	// Worker-side read loop: decode whatever the broker sends and
	// drive the worker's own Driver, mirroring cmd/maelstrom-worker's
	// brokerConn.readLoop without its reconnect machinery.
	go func() {
		for {
			var envelope proto.Envelope
			if err := wire.ReadMessage(workerConn, &envelope); err != nil {
				return
			}
			if envelope.Kind != proto.KindAssignJob {
				continue
			}
			var msg proto.AssignJob
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			workerDriver.AssignJob(context.Background(), msg.JobId, msg.Spec)
		}
	}()

	brokerDriver.Submit(broker.EventWorkerConnected{WorkerId: "w1", Capacity: 1})
	brokerDriver.Submit(broker.EventClientConnected{ClientId: "c1"})
	brokerDriver.Submit(broker.EventRunJob{
		ClientId:    "c1",
		ClientJobId: "job1",
		Spec:        proto.JobSpec{Program: "/bin/true"},
	})

	wantJobId := proto.JobId("c1:job1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := workerDriver.Status(wantJobId); ok && status == proto.WorkerStatusWaitingToExecute {
			return
		}
		time.Sleep(time.Millisecond)
	}
	status, ok := workerDriver.Status(wantJobId)
	t.Fatalf("worker status for %s = %v, %v; want WaitingToExecute", wantJobId, status, ok)
}

type noopBrokerLink struct{}

func (noopBrokerLink) ReportStatus(proto.JobId, proto.WorkerStatus) error { return nil }
func (noopBrokerLink) ReportOutcome(proto.JobId, proto.Outcome) error     { return nil }
func (noopBrokerLink) PullArtifact(context.Context, digest.Digest) (io.ReadCloser, int64, error) {
	panic("not needed: this scenario's job carries no layers")
}
