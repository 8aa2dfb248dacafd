// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// createDeviceNode implements the "mknod the requested device nodes"
// half of spec §4.3 assembly step 4. It is called before bwrap is
// launched, so the node must land directly on the host filesystem at
// mnt.DevicePath; bind-mounting it into the sandbox at mnt.Dest is
// bwrap's job (handled alongside the other --dev-bind mounts once the
// node exists).
func createDeviceNode(mnt proto.Mount) error {
	if mnt.DevicePath == "" {
		return fmt.Errorf("sandbox: device mount at %s has no device path", mnt.Dest)
	}
	if err := os.MkdirAll(filepath.Dir(mnt.DevicePath), 0o755); err != nil {
		return fmt.Errorf("sandbox: creating parent of device node %s: %w", mnt.DevicePath, err)
	}
	os.Remove(mnt.DevicePath)

	dev := unix.Mkdev(mnt.Major, mnt.Minor)
	if err := unix.Mknod(mnt.DevicePath, unix.S_IFCHR|0o666, int(dev)); err != nil {
		return fmt.Errorf("sandbox: mknod %s (%d,%d): %w", mnt.DevicePath, mnt.Major, mnt.Minor, err)
	}
	return nil
}
