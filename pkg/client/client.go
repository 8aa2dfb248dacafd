// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the client half of the broker↔client
// protocol (spec §4.5): submitting jobs, cancelling them, serving
// artifact pushes the broker requests, and delivering the resulting
// status updates and outcomes back to the caller. Job-spec
// construction (layer building, filter-DSL test selection, OCI image
// download) is out of core scope (spec §1) — this package only
// carries already-built JobSpec values and artifact bytes over the
// wire.
package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

// dialTimeout bounds the initial TCP connection to the broker.
const dialTimeout = 5 * time.Second

// ArtifactSource answers the broker's request for a digest this
// client is known to hold, returning the exact byte content and its
// length. Callers implement this over whatever local layer store they
// maintain (out of core scope per spec §1).
type ArtifactSource interface {
	Open(d digest.Digest) (io.ReadCloser, int64, error)
}

// EventHandler receives the asynchronous messages the broker sends a
// connected client (spec §4.5): status updates and outcomes for jobs
// this client submitted. Handler methods are called from the Client's
// single read goroutine; they must not block or call back into the
// Client synchronously from within the handler that owns the same
// lock-free loop (do any slow work on another goroutine).
type EventHandler interface {
	OnJobStatusUpdate(jobId proto.JobId, status proto.JobStatus)
	OnJobOutcome(jobId proto.JobId, outcome proto.Outcome)
}

// Client is a persistent connection to the broker (spec §4.5): one
// Hello exchange followed by an asynchronous, bidirectional stream of
// RunJob/CancelJob/artifact pushes going out and status/outcome/
// artifact-request messages coming back, matching spec §4.1's framing
// and §5's "sender never blocks on acknowledgement" model.
type Client struct {
	ClientId proto.ClientId

	conn    net.Conn
	source  ArtifactSource
	handler EventHandler

	writeMu sync.Mutex

	done chan struct{}
}

// Connect dials the broker at addr, sends Hello, and starts the
// background read loop that dispatches incoming messages to handler
// (status/outcomes) and source (artifact pushes the broker requests).
func Connect(ctx context.Context, addr string, clientId proto.ClientId, source ArtifactSource, handler EventHandler) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker at %s: %w", addr, err)
	}

	c := &Client{
		ClientId: clientId,
		conn:     conn,
		source:   source,
		handler:  handler,
		done:     make(chan struct{}),
	}

	if err := c.send(proto.KindClientHello, proto.ClientHello{ClientId: clientId}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Close tears down the connection to the broker. Per spec §7, the
// broker interprets this as this client's PeerLost: every job it
// submitted is cancelled.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done is closed once the read loop exits (the connection was closed,
// locally or by the broker).
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// RunJob submits a job for execution (spec §4.5: RunJob). jobId only
// needs to be unique among this client's own submissions; the broker
// augments it with a client-scoped prefix to form the globally unique
// JobId used in subsequent status updates and outcomes.
func (c *Client) RunJob(jobId proto.ClientJobId, spec proto.JobSpec) error {
	return c.send(proto.KindRunJob, proto.RunJob{JobId: jobId, Spec: spec})
}

// CancelJob cancels a previously submitted job, valid at any point in
// its lifecycle (spec §4.5, §5).
func (c *Client) CancelJob(jobId proto.JobId) error {
	return c.send(proto.KindCancelJob, proto.CancelJob{JobId: jobId})
}

// PushArtifact streams size bytes for digest d to the broker:
// ArtifactPushReady, the raw body, then ArtifactEnd (spec §4.1, §4.5).
// The read loop calls it itself when the broker sends an
// ArtifactRequest; callers may also call it proactively before the
// broker has asked for the artifact.
func (c *Client) PushArtifact(d digest.Digest, size int64, body io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.writeLocked(proto.KindArtifactPushReady, proto.ArtifactPushReady{Digest: d, Size: size}); err != nil {
		return fmt.Errorf("pushing artifact %s: %w", d, err)
	}
	if err := wire.WriteBody(c.conn, body, size); err != nil {
		return fmt.Errorf("pushing artifact %s: %w", d, err)
	}
	if err := c.writeLocked(proto.KindArtifactEnd, proto.ArtifactEnd{Digest: d}); err != nil {
		return fmt.Errorf("pushing artifact %s: %w", d, err)
	}
	return nil
}

func (c *Client) send(kind string, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(kind, v)
}

func (c *Client) writeLocked(kind string, v any) error {
	envelope, err := proto.Encode(kind, v)
	if err != nil {
		return err
	}
	return wire.WriteMessage(c.conn, envelope)
}

// readLoop dispatches every message the broker sends until the
// connection closes. Broker→Client messages are either asynchronous
// notifications (JobStatusUpdate, JobOutcome), passed to the
// EventHandler, or an artifact request, which readLoop answers itself
// by opening the digest from the ArtifactSource and calling
// PushArtifact on a separate goroutine, so the read loop is never
// blocked on a slow upload.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var envelope proto.Envelope
		if err := wire.ReadMessage(c.conn, &envelope); err != nil {
			return
		}

		switch envelope.Kind {
		case proto.KindArtifactRequest:
			var msg proto.ArtifactRequest
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			go c.serveArtifactRequest(msg.Digest)

		case proto.KindJobStatusUpdate:
			var msg proto.JobStatusUpdateMsg
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			c.handler.OnJobStatusUpdate(msg.JobId, msg.Status)

		case proto.KindJobOutcome:
			var msg proto.JobOutcomeMsg
			if err := envelope.Decode(&msg); err != nil {
				continue
			}
			c.handler.OnJobOutcome(msg.JobId, msg.Outcome)
		}
	}
}

func (c *Client) serveArtifactRequest(d digest.Digest) {
	body, size, err := c.source.Open(d)
	if err != nil {
		return
	}
	defer body.Close()
	c.PushArtifact(d, size, body)
}
