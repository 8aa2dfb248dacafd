// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// OverlayManager composes the read-only scratch tree produced by
// MaterializeLayers with a read-write upper/work pair via
// fuse-overlayfs, per spec §4.3 assembly step 3.
type OverlayManager struct {
	fuseBin       string
	fusermountBin string
	tempDir       string
	mounts        []*overlayMount
}

type overlayMount struct {
	mergedDir string
}

// NewOverlayManager locates fuse-overlayfs and fusermount. It is only
// needed when a job requests overlay=tmp or overlay=local;
// overlay=none never constructs one.
func NewOverlayManager() (*OverlayManager, error) {
	fuseBin, err := exec.LookPath("fuse-overlayfs")
	if err != nil {
		return nil, fmt.Errorf("sandbox: fuse-overlayfs not found: %w", err)
	}
	fusermountBin, err := exec.LookPath("fusermount3")
	if err != nil {
		fusermountBin, err = exec.LookPath("fusermount")
		if err != nil {
			return nil, fmt.Errorf("sandbox: fusermount/fusermount3 not found: %w", err)
		}
	}
	return &OverlayManager{fuseBin: fuseBin, fusermountBin: fusermountBin}, nil
}

// validateOverlayPath rejects paths that could inject extra
// fuse-overlayfs options through its comma-separated -o value, or
// that contain characters that would otherwise corrupt the option
// string.
func validateOverlayPath(path, fieldName string) error {
	if strings.Contains(path, ",") {
		return fmt.Errorf("sandbox: %s path %q contains a comma, which would corrupt fuse-overlayfs options", fieldName, path)
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("sandbox: %s path %q contains a null byte or newline", fieldName, path)
	}
	return nil
}

// Assemble turns lowerDir (the flattened layer tree) into the job's
// merged root according to mode. overlay=none is a no-op: the
// flattened tree is already read-write scratch space, so it is the
// root directly. localUpperDir is only consulted for overlay=local
// and must be a worker-provided per-job scratch path.
func (m *OverlayManager) Assemble(mode proto.OverlayMode, lowerDir, localUpperDir string) (mergedDir string, err error) {
	switch mode {
	case proto.OverlayNone, "":
		return lowerDir, nil

	case proto.OverlayTmp:
		if m.tempDir == "" {
			m.tempDir, err = os.MkdirTemp("", "maelstrom-overlay-*")
			if err != nil {
				return "", fmt.Errorf("sandbox: creating overlay temp dir: %w", err)
			}
		}
		name := uuid.NewString()
		return m.mount(lowerDir, filepath.Join(m.tempDir, name+"-upper"), filepath.Join(m.tempDir, name+"-work"), filepath.Join(m.tempDir, name+"-merged"))

	case proto.OverlayLocal:
		if localUpperDir == "" {
			return "", fmt.Errorf("sandbox: overlay=local requires a local upper directory")
		}
		return m.mount(lowerDir, filepath.Join(localUpperDir, "upper"), filepath.Join(localUpperDir, "work"), filepath.Join(localUpperDir, "merged"))

	default:
		return "", fmt.Errorf("sandbox: unknown overlay mode %q", mode)
	}
}

func (m *OverlayManager) mount(lowerDir, upperDir, workDir, mergedDir string) (string, error) {
	if err := validateOverlayPath(lowerDir, "lower"); err != nil {
		return "", err
	}
	if err := validateOverlayPath(upperDir, "upper"); err != nil {
		return "", err
	}

	for _, dir := range []string{upperDir, workDir, mergedDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("sandbox: creating overlay directory %s: %w", dir, err)
		}
	}

	args := []string{
		"-o", fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lowerDir, upperDir, workDir),
		mergedDir,
	}
	cmd := exec.Command(m.fuseBin, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("sandbox: fuse-overlayfs failed: %w\n%s", err, output)
	}

	if err := waitForFuseMount(mergedDir); err != nil {
		exec.Command(m.fusermountBin, "-u", mergedDir).Run()
		return "", err
	}

	m.mounts = append(m.mounts, &overlayMount{mergedDir: mergedDir})
	return mergedDir, nil
}

// Cleanup unmounts every overlay this manager set up and removes its
// tmpfs-backed scratch directory, if any. Best-effort: failures are
// returned joined but do not stop later unmounts from being attempted.
func (m *OverlayManager) Cleanup() error {
	var errs []string
	for _, mnt := range m.mounts {
		if out, err := exec.Command(m.fusermountBin, "-u", mnt.mergedDir).CombinedOutput(); err != nil {
			if out2, err2 := exec.Command(m.fusermountBin, "-u", "-z", mnt.mergedDir).CombinedOutput(); err2 != nil {
				errs = append(errs, fmt.Sprintf("unmount %s: %v (%s) / lazy: %v (%s)", mnt.mergedDir, err, out, err2, out2))
			}
		}
	}
	m.mounts = nil

	if m.tempDir != "" {
		if err := os.RemoveAll(m.tempDir); err != nil {
			errs = append(errs, fmt.Sprintf("remove %s: %v", m.tempDir, err))
		}
		m.tempDir = ""
	}

	if len(errs) > 0 {
		return fmt.Errorf("sandbox: overlay cleanup: %s", strings.Join(errs, "; "))
	}
	return nil
}

// waitForFuseMount polls until path reports the FUSE filesystem magic
// number, confirming fuse-overlayfs has registered the mount before a
// caller bind-mounts it into a sandbox.
func waitForFuseMount(path string) error {
	const fuseSuperMagic = 0x65735546
	const attempts = 50
	const interval = 20 * time.Millisecond

	for i := 0; i < attempts; i++ {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(path, &stat); err == nil && stat.Type == fuseSuperMagic {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("sandbox: timed out waiting for fuse-overlayfs mount at %s", path)
}
