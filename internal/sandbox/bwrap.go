// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"

	"github.com/maelstrom-ci/maelstrom/internal/proto"
)

// BwrapOptions holds everything needed to build a bwrap invocation
// for one job.
type BwrapOptions struct {
	// Root is the merged directory produced by OverlayManager.Assemble
	// (or the flattened layer tree directly, for overlay=none). It is
	// bound onto "/" inside the sandbox's new mount namespace.
	Root string

	Mounts  []proto.Mount
	Env     []proto.EnvVar
	Network proto.NetworkMode

	UID *uint32
	GID *uint32

	WorkingDirectory string

	Command []string
}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
}

func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{}
}

// Build constructs the bwrap argv (excluding the bwrap binary path
// itself) per spec §4.3 steps 4-5: mount points for the requested
// mounts, uid/gid, network mode, then pivot into Root and execve the
// job's program.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("sandbox: Root is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("sandbox: Command is required")
	}

	b.args = []string{
		// Always-unshared namespaces: a job never needs to see the
		// worker's own PIDs, IPC objects, hostname, or cgroups.
		"--unshare-pid", "--unshare-ipc", "--unshare-uts", "--unshare-cgroup",
		"--die-with-parent", "--new-session",
	}

	b.addNetwork(opts.Network)

	// Bind the assembled tree onto "/" before any more specific mount,
	// so later --proc/--dev/--bind calls layer on top of it.
	b.args = append(b.args, "--bind", opts.Root, "/")
	b.args = append(b.args, "--proc", "/proc")
	b.args = append(b.args, "--dev", "/dev")

	if err := b.addMounts(opts.Mounts); err != nil {
		return nil, err
	}

	if opts.UID != nil {
		b.args = append(b.args, "--uid", fmt.Sprint(*opts.UID))
	}
	if opts.GID != nil {
		b.args = append(b.args, "--gid", fmt.Sprint(*opts.GID))
	}
	if opts.WorkingDirectory != "" {
		b.args = append(b.args, "--chdir", opts.WorkingDirectory)
	}

	b.args = append(b.args, "--clearenv")
	env := resolveEnv(opts.Env)
	for _, key := range sortedEnvKeys(env) {
		b.args = append(b.args, "--setenv", key, env[key])
	}

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)

	return b.args, nil
}

// addNetwork maps the three network modes from spec §3 onto bwrap:
// disabled and loopback both get a fresh network namespace via
// --unshare-net, in which bwrap brings up lo (not routed anywhere), so
// the two modes behave the same and a disabled job still has a
// loopback interface; local shares the worker's own network namespace
// outright.
func (b *BwrapBuilder) addNetwork(mode proto.NetworkMode) {
	switch mode {
	case proto.NetworkLocal:
		// No --unshare-net: inherit the worker's namespace.
	default:
		b.args = append(b.args, "--unshare-net")
	}
}

func (b *BwrapBuilder) addMounts(mounts []proto.Mount) error {
	for _, mnt := range mounts {
		switch mnt.Kind {
		case proto.MountProc:
			b.args = append(b.args, "--proc", mnt.Dest)
		case proto.MountSys:
			// bwrap has no dedicated sysfs flag; approximate by
			// re-binding the worker's own /sys read-only.
			b.args = append(b.args, "--ro-bind", "/sys", mnt.Dest)
		case proto.MountTmp:
			b.args = append(b.args, "--tmpfs", mnt.Dest)
		case proto.MountDevpts:
			// bwrap's --dev already provisions a devpts-backed /dev/pts;
			// an additional mount point elsewhere gets the same treatment.
			b.args = append(b.args, "--dev", mnt.Dest)
		case proto.MountMqueue:
			b.args = append(b.args, "--dir", mnt.Dest)
		case proto.MountBind:
			if mnt.Source == "" {
				return fmt.Errorf("sandbox: bind mount at %s has no source", mnt.Dest)
			}
			if mnt.ReadOnly {
				b.args = append(b.args, "--ro-bind", mnt.Source, mnt.Dest)
			} else {
				b.args = append(b.args, "--bind", mnt.Source, mnt.Dest)
			}
		case proto.MountDevice:
			if err := createDeviceNode(mnt); err != nil {
				return err
			}
			if mnt.Dest != "" {
				b.args = append(b.args, "--dev-bind", mnt.DevicePath, mnt.Dest)
			}
		default:
			return fmt.Errorf("sandbox: unknown mount kind %q", mnt.Kind)
		}
	}
	return nil
}

// resolveEnv applies each EnvVar in order. Extend=true appends
// (":"-joined) to a value already set by an earlier entry of the same
// name; otherwise it replaces it outright (spec §3: ContainerSpec).
func resolveEnv(vars []proto.EnvVar) map[string]string {
	env := make(map[string]string, len(vars))
	for _, v := range vars {
		if v.Extend {
			if existing, ok := env[v.Name]; ok && existing != "" {
				env[v.Name] = existing + ":" + v.Value
				continue
			}
		}
		env[v.Name] = v.Value
	}
	return env
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BwrapPath locates the bwrap executable.
func BwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("sandbox: bwrap not found in standard locations")
}
