// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox builds and runs the isolated root filesystem a job
// executes in, per spec §4.3's sandbox assembly steps: materialize
// layers into a scratch tree, compose the overlay, create mount
// points and device nodes, then launch bwrap with the resolved
// namespace, mount, uid/gid, and network options.
package sandbox
