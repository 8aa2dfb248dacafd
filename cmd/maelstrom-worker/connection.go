// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
	"github.com/maelstrom-ci/maelstrom/internal/worker"
)

const (
	dialTimeout    = 5 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// linkSwitch implements worker.BrokerLink over whatever the current
// connection to the broker is, letting the Driver be constructed once
// and kept alive across reconnects (spec §7: a lost broker connection
// is recovered, not treated as a fatal error for the worker process).
type linkSwitch struct {
	mu      sync.RWMutex
	current *brokerConn
}

func (l *linkSwitch) set(c *brokerConn) {
	l.mu.Lock()
	l.current = c
	l.mu.Unlock()
}

func (l *linkSwitch) get() (*brokerConn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return nil, fmt.Errorf("not connected to broker")
	}
	return l.current, nil
}

func (l *linkSwitch) ReportStatus(jobId proto.JobId, status proto.WorkerStatus) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.send(proto.KindWorkerJobStatusUpdate, proto.WorkerJobStatusUpdate{JobId: jobId, Status: status})
}

func (l *linkSwitch) ReportOutcome(jobId proto.JobId, outcome proto.Outcome) error {
	c, err := l.get()
	if err != nil {
		return err
	}
	return c.send(proto.KindWorkerJobOutcome, proto.WorkerJobOutcome{JobId: jobId, Outcome: outcome})
}

func (l *linkSwitch) PullArtifact(ctx context.Context, d digest.Digest) (io.ReadCloser, int64, error) {
	c, err := l.get()
	if err != nil {
		return nil, 0, err
	}
	return c.pullArtifact(ctx, d)
}

// pullResult is delivered to a waiting pullArtifact call once the
// matching ArtifactPullResponse (and body, if Found) has been read
// off the wire by the connection's single read loop.
type pullResult struct {
	found bool
	body  []byte
}

// brokerConn is one live connection to the broker. Reads and writes
// are split the usual way: a single write mutex serializes outbound
// frames, and only the readLoop goroutine ever reads from conn.
type brokerConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[digest.Digest]chan pullResult
}

func (c *brokerConn) send(kind string, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	envelope, err := proto.Encode(kind, v)
	if err != nil {
		return err
	}
	return wire.WriteMessage(c.conn, envelope)
}

func (c *brokerConn) pullArtifact(ctx context.Context, d digest.Digest) (io.ReadCloser, int64, error) {
	ch := make(chan pullResult, 1)
	c.pendingMu.Lock()
	c.pending[d] = ch
	c.pendingMu.Unlock()

	if err := c.send(proto.KindArtifactPullRequest, proto.ArtifactPullRequest{Digest: d}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, d)
		c.pendingMu.Unlock()
		return nil, 0, err
	}

	select {
	case res := <-ch:
		if !res.found {
			return nil, 0, fmt.Errorf("broker has no copy of artifact %s", d)
		}
		return io.NopCloser(bytes.NewReader(res.body)), int64(len(res.body)), nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// readLoop dispatches every message the broker sends until the
// connection closes, driving driver via AssignJob/CancelJob and
// delivering ArtifactPullResponse to whichever pullArtifact call is
// waiting on that digest.
func (c *brokerConn) readLoop(ctx context.Context, driver *worker.Driver, logger *slog.Logger) error {
	for {
		var envelope proto.Envelope
		if err := wire.ReadMessage(c.conn, &envelope); err != nil {
			return err
		}

		switch envelope.Kind {
		case proto.KindAssignJob:
			var msg proto.AssignJob
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			if err := driver.AssignJob(ctx, msg.JobId, msg.Spec); err != nil {
				logger.Error("assigning job", "job_id", msg.JobId, "error", err)
			}

		case proto.KindWorkerCancelJob:
			var msg proto.WorkerCancelJob
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			driver.CancelJob(msg.JobId)

		case proto.KindArtifactPullResponse:
			var msg proto.ArtifactPullResponse
			if err := envelope.Decode(&msg); err != nil {
				return err
			}
			if err := c.deliverPullResponse(msg); err != nil {
				return err
			}
		}
	}
}

func (c *brokerConn) deliverPullResponse(msg proto.ArtifactPullResponse) error {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.Digest]
	delete(c.pending, msg.Digest)
	c.pendingMu.Unlock()

	if !msg.Found {
		if ok {
			ch <- pullResult{found: false}
		}
		return nil
	}

	body := make([]byte, msg.Size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return fmt.Errorf("reading pulled artifact %s: %w", msg.Digest, err)
	}
	if ok {
		ch <- pullResult{found: true, body: body}
	}
	return nil
}

// runBrokerSession dials the broker, sends WorkerHello, and keeps the
// connection alive through linkSwitch until ctx is cancelled,
// reconnecting with exponential backoff whenever the session ends
// (spec §7: PeerLost on the worker's side of the broker connection).
func runBrokerSession(ctx context.Context, addr string, capacity int, driver *worker.Driver, link *linkSwitch, logger *slog.Logger) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			logger.Warn("connecting to broker failed", "addr", addr, "error", err, "retry_in", backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		envelope, err := proto.Encode(proto.KindWorkerHello, proto.WorkerHello{Capacity: capacity})
		if err != nil {
			conn.Close()
			return
		}
		if err := wire.WriteMessage(conn, envelope); err != nil {
			conn.Close()
			logger.Warn("sending hello failed", "error", err, "retry_in", backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		bc := &brokerConn{conn: conn, pending: make(map[digest.Digest]chan pullResult)}
		link.set(bc)
		logger.Info("connected to broker", "addr", addr)
		backoff = initialBackoff

		err = bc.readLoop(ctx, driver, logger)
		link.set(nil)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
			logger.Warn("broker connection lost", "error", err, "retry_in", backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
