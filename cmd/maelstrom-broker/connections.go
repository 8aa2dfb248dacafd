// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/maelstrom-ci/maelstrom/internal/broker"
	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

// hub owns every live client and worker connection and implements
// broker.ClientLink and broker.WorkerLink on their behalf: Reduce
// never sees a net.Conn, only these two narrow interfaces (spec
// §5/§9).
type hub struct {
	logger *slog.Logger
	driver *broker.Driver

	mu      sync.Mutex
	clients map[proto.ClientId]*clientConn
	workers map[proto.WorkerId]*workerConn
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[proto.ClientId]*clientConn),
		workers: make(map[proto.WorkerId]*workerConn),
	}
}

// --- broker.ClientLink ---

func (h *hub) RequestArtifact(clientId proto.ClientId, d digest.Digest) error {
	c, ok := h.client(clientId)
	if !ok {
		return fmt.Errorf("requesting artifact from %s: not connected", clientId)
	}
	return c.send(proto.KindArtifactRequest, proto.ArtifactRequest{Digest: d})
}

func (h *hub) ForwardStatus(clientId proto.ClientId, jobId proto.JobId, status proto.JobStatus) error {
	c, ok := h.client(clientId)
	if !ok {
		return fmt.Errorf("forwarding status to %s: not connected", clientId)
	}
	return c.send(proto.KindJobStatusUpdate, proto.JobStatusUpdateMsg{JobId: jobId, Status: status})
}

func (h *hub) ForwardOutcome(clientId proto.ClientId, jobId proto.JobId, outcome proto.Outcome) error {
	c, ok := h.client(clientId)
	if !ok {
		return fmt.Errorf("forwarding outcome to %s: not connected", clientId)
	}
	return c.send(proto.KindJobOutcome, proto.JobOutcomeMsg{JobId: jobId, Outcome: outcome})
}

// --- broker.WorkerLink ---

func (h *hub) AssignJob(workerId proto.WorkerId, jobId proto.JobId, spec proto.JobSpec) error {
	w, ok := h.worker(workerId)
	if !ok {
		return fmt.Errorf("assigning job to %s: not connected", workerId)
	}
	return w.send(proto.KindAssignJob, proto.AssignJob{JobId: jobId, Spec: spec})
}

func (h *hub) CancelJob(workerId proto.WorkerId, jobId proto.JobId) error {
	w, ok := h.worker(workerId)
	if !ok {
		return fmt.Errorf("cancelling job at %s: not connected", workerId)
	}
	return w.send(proto.KindWorkerCancelJob, proto.WorkerCancelJob{JobId: jobId})
}

func (h *hub) client(id proto.ClientId) (*clientConn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	return c, ok
}

func (h *hub) worker(id proto.WorkerId) (*workerConn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.workers[id]
	return w, ok
}

// acceptLoop accepts connections until ctx is cancelled, dispatching
// each to handleConn in its own goroutine.
func acceptLoop(ctx context.Context, listener net.Listener, h *hub, logger *slog.Logger) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go handleConn(conn, h, logger)
	}
}

// handleConn reads the first envelope off a freshly accepted
// connection to learn whether it is a client or a worker (spec §4.5/
// §4.6 both open with a Hello), then hands off to the matching
// read loop for the rest of the connection's lifetime.
func handleConn(conn net.Conn, h *hub, logger *slog.Logger) {
	var envelope proto.Envelope
	if err := wire.ReadMessage(conn, &envelope); err != nil {
		conn.Close()
		return
	}

	switch envelope.Kind {
	case proto.KindClientHello:
		var hello proto.ClientHello
		if err := envelope.Decode(&hello); err != nil {
			conn.Close()
			return
		}
		runClient(conn, hello.ClientId, h, logger)
	case proto.KindWorkerHello:
		var hello proto.WorkerHello
		if err := envelope.Decode(&hello); err != nil {
			conn.Close()
			return
		}
		runWorker(conn, proto.WorkerId(uuid.NewString()), hello.Capacity, h, logger)
	default:
		conn.Close()
	}
}

// --- clientConn ---

type clientConn struct {
	conn     net.Conn
	clientId proto.ClientId
	writeMu  sync.Mutex
}

func (c *clientConn) send(kind string, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	envelope, err := proto.Encode(kind, v)
	if err != nil {
		return err
	}
	return wire.WriteMessage(c.conn, envelope)
}

func runClient(conn net.Conn, clientId proto.ClientId, h *hub, logger *slog.Logger) {
	c := &clientConn{conn: conn, clientId: clientId}

	h.mu.Lock()
	h.clients[clientId] = c
	h.mu.Unlock()

	h.driver.Submit(broker.EventClientConnected{ClientId: clientId})
	logger.Info("client connected", "client_id", clientId)

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientId)
		h.mu.Unlock()
		conn.Close()
		h.driver.Submit(broker.EventClientDisconnected{ClientId: clientId})
		logger.Info("client disconnected", "client_id", clientId)
	}()

	for {
		var envelope proto.Envelope
		if err := wire.ReadMessage(conn, &envelope); err != nil {
			return
		}

		switch envelope.Kind {
		case proto.KindRunJob:
			var msg proto.RunJob
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			h.driver.Submit(broker.EventRunJob{ClientId: clientId, ClientJobId: msg.JobId, Spec: msg.Spec})

		case proto.KindCancelJob:
			var msg proto.CancelJob
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			h.driver.Submit(broker.EventCancelJob{JobId: msg.JobId})

		case proto.KindArtifactPushReady:
			var msg proto.ArtifactPushReady
			if err := envelope.Decode(&msg); err != nil {
				return
			}
			if err := h.driver.ReceiveArtifactPush(clientId, msg.Digest, io.LimitReader(conn, msg.Size), msg.Size); err != nil {
				logger.Error("receiving artifact push", "client_id", clientId, "digest", msg.Digest, "error", err)
				return
			}
			// ArtifactEnd carries no information ReceiveArtifactPush
			// does not already have (the size was declared up front);
			// it only confirms the sender's side of the transfer, so
			// it is read and discarded here.
			var end proto.Envelope
			if err := wire.ReadMessage(conn, &end); err != nil {
				return
			}
		}
	}
}

// --- workerConn ---

type workerConn struct {
	conn     net.Conn
	workerId proto.WorkerId
	writeMu  sync.Mutex
}

func (w *workerConn) send(kind string, v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	envelope, err := proto.Encode(kind, v)
	if err != nil {
		return err
	}
	return wire.WriteMessage(w.conn, envelope)
}

func runWorker(conn net.Conn, workerId proto.WorkerId, capacity int, h *hub, logger *slog.Logger) {
	w := &workerConn{conn: conn, workerId: workerId}

	h.mu.Lock()
	h.workers[workerId] = w
	h.mu.Unlock()

	h.driver.Submit(broker.EventWorkerConnected{WorkerId: workerId, Capacity: capacity})
	logger.Info("worker connected", "worker_id", workerId, "capacity", capacity)

	defer func() {
		h.mu.Lock()
		delete(h.workers, workerId)
		h.mu.Unlock()
		conn.Close()
		h.driver.Submit(broker.EventWorkerDisconnected{WorkerId: workerId})
		logger.Info("worker disconnected", "worker_id", workerId)
	}()

	for {
		var envelope proto.Envelope
		if err := wire.ReadMessage(conn, &envelope); err != nil {
			return
		}

		switch envelope.Kind {
		case proto.KindWorkerJobStatusUpdate:
			var msg proto.WorkerJobStatusUpdate
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			h.driver.Submit(broker.EventWorkerJobStatusUpdate{WorkerId: workerId, JobId: msg.JobId, Status: msg.Status})

		case proto.KindWorkerJobOutcome:
			var msg proto.WorkerJobOutcome
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			h.driver.Submit(broker.EventWorkerJobOutcome{WorkerId: workerId, JobId: msg.JobId, Outcome: msg.Outcome})

		case proto.KindArtifactPullRequest:
			var msg proto.ArtifactPullRequest
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			go servePull(w, msg.Digest, h, logger)
		}
	}
}

// servePull answers a worker's pull request from the broker's cache,
// run on its own goroutine so a slow worker download never blocks
// this connection's read loop from noticing the next message.
func servePull(w *workerConn, d digest.Digest, h *hub, logger *slog.Logger) {
	body, size, err := h.driver.ServePull(d)
	if err != nil {
		w.send(proto.KindArtifactPullResponse, proto.ArtifactPullResponse{Digest: d, Found: false})
		logger.Warn("pull request for unknown digest", "worker_id", w.workerId, "digest", d, "error", err)
		return
	}
	defer body.Close()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	envelope, err := proto.Encode(proto.KindArtifactPullResponse, proto.ArtifactPullResponse{Digest: d, Found: true, Size: size})
	if err != nil {
		return
	}
	if err := wire.WriteMessage(w.conn, envelope); err != nil {
		return
	}
	wire.WriteBody(w.conn, body, size)
}
