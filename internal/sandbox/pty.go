// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PTY is an allocated pseudo-terminal pair. Master is kept open by
// the caller and forwarded as the job's merged output stream (spec
// §4.3: Output capture); Slave is handed to the sandboxed process as
// its stdin/stdout/stderr.
type PTY struct {
	Master *os.File
	Slave  *os.File
}

// OpenPTY allocates a new pseudo-terminal pair for a TTY job.
func OpenPTY() (*PTY, error) {
	masterFd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("sandbox: opening /dev/ptmx: %w", err)
	}
	master := os.NewFile(uintptr(masterFd), "/dev/ptmx")

	if err := unix.IoctlSetInt(masterFd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, fmt.Errorf("sandbox: unlocking pty: %w", err)
	}

	n, err := unix.IoctlGetInt(masterFd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("sandbox: reading pty number: %w", err)
	}
	slavePath := fmt.Sprintf("/dev/pts/%d", n)

	slave, err := os.OpenFile(slavePath, os.O_RDWR, 0)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("sandbox: opening pty slave %s: %w", slavePath, err)
	}

	return &PTY{Master: master, Slave: slave}, nil
}

// Close releases both ends of the pseudo-terminal.
func (p *PTY) Close() error {
	slaveErr := p.Slave.Close()
	masterErr := p.Master.Close()
	if slaveErr != nil {
		return slaveErr
	}
	return masterErr
}
