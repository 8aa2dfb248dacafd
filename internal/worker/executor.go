// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the worker's slot scheduler and job
// lifecycle (spec §4.3): layer acquisition, sandbox assembly,
// execution, output capture, timeout, and cancellation.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/maelstrom-ci/maelstrom/internal/clock"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/sandbox"
)

// OutputLimit bounds how many bytes of stdout/stderr are kept inline
// in an Outcome; the rest are counted but discarded (spec §4.3:
// Output capture).
const OutputLimit = 1 << 20 // 1 MiB

// Executor runs jobs: each Execute call handles one job, and the
// worker's Driver shares a single Executor across all of its slots,
// so calls may run concurrently. It owns no state across calls;
// everything it needs comes in through Execute's arguments.
type Executor struct {
	Clock           clock.Clock
	LocalOverlayDir func(jobId proto.JobId) string

	// OutputLimit overrides OutputLimit for this Executor. Zero means
	// use the package default.
	OutputLimit int64
}

func (e *Executor) outputLimit() int64 {
	if e.OutputLimit > 0 {
		return e.OutputLimit
	}
	return OutputLimit
}

// Execute implements spec §4.3's assembly → execution → output
// capture → timeout pipeline for one job. ctx is cancelled by the
// caller to implement the broker's cancel-job contract: the
// subprocess is killed and Execute returns ctx.Err() rather than an
// Outcome, since a cancelled job's outcome is discarded, not reported
// (spec §4.3: Slot scheduling).
func (e *Executor) Execute(ctx context.Context, jobId proto.JobId, spec proto.JobSpec, src sandbox.LayerSource) (proto.Outcome, error) {
	localUpperDir := ""
	if spec.Container.Overlay == proto.OverlayLocal && e.LocalOverlayDir != nil {
		localUpperDir = e.LocalOverlayDir(jobId)
	}

	assembly, err := sandbox.Assemble(spec.Container, src, localUpperDir)
	if err != nil {
		return systemError(err), nil
	}
	defer assembly.Cleanup()

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if spec.TimeoutSeconds > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(spec.TimeoutSeconds*float64(time.Second)))
		defer cancelTimeout()
	}

	cmd, err := assembly.Command(runCtx, spec.Program, spec.Args)
	if err != nil {
		return systemError(err), nil
	}

	var pty *sandbox.PTY
	stdout := newCapture(e.outputLimit())
	stderr := newCapture(e.outputLimit())

	if spec.TTY {
		pty, err = sandbox.OpenPTY()
		if err != nil {
			return systemError(err), nil
		}
		defer pty.Close()
		cmd.Stdin = pty.Slave
		cmd.Stdout = pty.Slave
		cmd.Stderr = pty.Slave
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	start := e.now()

	if err := cmd.Start(); err != nil {
		return systemError(fmt.Errorf("starting sandboxed process: %w", err)), nil
	}

	var ptyDone chan struct{}
	if pty != nil {
		ptyDone = make(chan struct{})
		go func() {
			io.Copy(stdout, pty.Master)
			close(ptyDone)
		}()
	}

	waitErr := cmd.Wait()
	if pty != nil {
		pty.Slave.Close()
		<-ptyDone
	}

	duration := e.now().Sub(start).Seconds()

	if ctx.Err() != nil {
		// Cancelled by the caller: the process has already been
		// reaped above via Wait returning; nothing further to report.
		return proto.Outcome{}, ctx.Err()
	}

	if runCtx.Err() != nil {
		killProcessGroup(cmd)
		return proto.Outcome{
			Kind:     proto.OutcomeTimedOut,
			Stdout:   stdout.result(),
			Stderr:   stderr.result(),
			Duration: duration,
		}, nil
	}

	return outcomeFromWaitErr(waitErr, stdout, stderr, duration), nil
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now()
}

func outcomeFromWaitErr(waitErr error, stdout, stderr *capture, duration float64) proto.Outcome {
	outcome := proto.Outcome{
		Kind:     proto.OutcomeCompleted,
		Stdout:   stdout.result(),
		Stderr:   stderr.result(),
		Duration: duration,
	}
	if waitErr == nil {
		code := int32(0)
		outcome.ExitCode = &code
		return outcome
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		outcome.Kind = proto.OutcomeError
		outcome.ErrorKind = proto.ErrorSystem
		outcome.ErrorMessage = waitErr.Error()
		return outcome
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() {
		sig := int32(status.Signal())
		outcome.Signal = &sig
		return outcome
	}

	code := int32(exitErr.ExitCode())
	outcome.ExitCode = &code
	return outcome
}

func systemError(err error) proto.Outcome {
	return proto.Outcome{
		Kind:         proto.OutcomeError,
		ErrorKind:    proto.ErrorSystem,
		ErrorMessage: err.Error(),
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// capture is an io.Writer that keeps up to limit bytes and counts the
// rest as truncated, per spec §4.3's Output capture contract.
type capture struct {
	mu        sync.Mutex
	limit     int64
	buf       bytes.Buffer
	truncated int64
}

func newCapture(limit int64) *capture {
	return &capture{limit: limit}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(p)
	remaining := c.limit - int64(c.buf.Len())
	if remaining > 0 {
		n := int64(len(p))
		if n > remaining {
			n = remaining
		}
		c.buf.Write(p[:n])
		p = p[n:]
	}
	c.truncated += int64(len(p))
	return total, nil
}

func (c *capture) result() *proto.CapturedOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	return &proto.CapturedOutput{Data: data, Truncated: c.truncated}
}
