// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// Assembly is a built sandbox root, ready to launch a command in.
// Callers must call Cleanup once the job has finished.
type Assembly struct {
	scratchDir     string
	mergedRoot     string
	overlayManager *OverlayManager
	spec           proto.ContainerSpec
}

// Assemble runs spec §4.3's assembly steps 1-3: allocate scratch
// space, materialize every layer into it in order, then compose the
// overlay according to spec.Overlay. localUpperDir is only used for
// overlay=local and must be a worker-provided per-job directory.
func Assemble(spec proto.ContainerSpec, src LayerSource, localUpperDir string) (*Assembly, error) {
	scratchDir, err := os.MkdirTemp("", "maelstrom-layers-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: allocating scratch directory: %w", err)
	}

	if err := MaterializeLayers(scratchDir, spec.Layers, src); err != nil {
		os.RemoveAll(scratchDir)
		return nil, err
	}

	a := &Assembly{scratchDir: scratchDir, spec: spec}

	if spec.Overlay == proto.OverlayNone || spec.Overlay == "" {
		a.mergedRoot = scratchDir
		return a, nil
	}

	manager, err := NewOverlayManager()
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, err
	}
	merged, err := manager.Assemble(spec.Overlay, scratchDir, localUpperDir)
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, err
	}

	a.overlayManager = manager
	a.mergedRoot = merged
	return a, nil
}

// Cleanup unmounts any overlay and removes the scratch tree.
func (a *Assembly) Cleanup() error {
	var overlayErr error
	if a.overlayManager != nil {
		overlayErr = a.overlayManager.Cleanup()
	}
	scratchErr := os.RemoveAll(a.scratchDir)
	if overlayErr != nil {
		return overlayErr
	}
	return scratchErr
}

// Command builds the exec.Cmd that runs program/argv inside this
// assembly's root via bwrap (spec §4.3 assembly step 5 and Execution).
func (a *Assembly) Command(ctx context.Context, program string, args []string) (*exec.Cmd, error) {
	builder := NewBwrapBuilder()
	bwrapArgs, err := builder.Build(&BwrapOptions{
		Root:             a.mergedRoot,
		Mounts:           a.spec.Mounts,
		Env:              a.spec.Environment,
		Network:          a.spec.Network,
		UID:              a.spec.UID,
		GID:              a.spec.GID,
		WorkingDirectory: a.spec.WorkingDirectory,
		Command:          append([]string{program}, args...),
	})
	if err != nil {
		return nil, err
	}

	bwrapPath, err := BwrapPath()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bwrapPath, bwrapArgs...)

	// bwrap itself must not inherit the worker daemon's full
	// environment: --clearenv only governs the sandboxed process, not
	// the bwrap process's own /proc/<pid>/environ.
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return cmd, nil
}
