// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// maelstrom-client is a thin, manual-testing front end for pkg/client
// (spec §1: building a JobSpec from source files, OCI images, or a
// filter-DSL test selection is out of core scope — this binary only
// submits an already-built spec and waits for its outcome).
//
// Usage:
//
//	maelstrom-client [flags] <job.yaml>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/pkg/client"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("maelstrom-client", flag.ContinueOnError)

	var (
		showVersion bool
		brokerAddr  string
		clientId    string
		artifactDir string
	)
	fs.BoolVar(&showVersion, "version", false, "print version information and exit")
	fs.StringVar(&brokerAddr, "broker", "localhost:9700", "broker address, host:port")
	fs.StringVar(&clientId, "client-id", "", "client identifier (default: a random one)")
	fs.StringVar(&artifactDir, "artifact-dir", "", "directory of files named by hex digest, served on request")
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), `maelstrom-client - submit a job and wait for its outcome

USAGE
    maelstrom-client [flags] <job.yaml>

FLAGS
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Fprintf(stdout, "maelstrom-client %s\n", version)
		return nil
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one job file is required")
	}

	spec, err := loadJobSpec(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("loading job spec: %w", err)
	}

	if clientId == "" {
		clientId = uuid.NewString()
	}

	handler := newOutcomePrinter(stdout)
	source := &directoryArtifactSource{dir: artifactDir}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := client.Connect(ctx, brokerAddr, proto.ClientId(clientId), source, handler)
	if err != nil {
		return fmt.Errorf("connecting to broker at %s: %w", brokerAddr, err)
	}
	defer c.Close()

	jobId := proto.ClientJobId(uuid.NewString())
	if err := c.RunJob(jobId, spec); err != nil {
		return fmt.Errorf("submitting job: %w", err)
	}

	select {
	case outcome := <-handler.done:
		return printOutcome(stdout, outcome)
	case <-c.Done():
		return fmt.Errorf("connection to broker closed before the job finished")
	}
}

// jobSpecFile is the on-disk shape maelstrom-client reads, a
// convenience mapping onto proto.JobSpec for manual testing — not
// part of the wire protocol itself, which only ever carries the
// already-built proto.JobSpec.
type jobSpecFile struct {
	Program        string   `yaml:"program"`
	Args           []string `yaml:"args"`
	TimeoutSeconds float64  `yaml:"timeout_seconds"`
	Priority       int32    `yaml:"priority"`
	Container      struct {
		Layers []struct {
			Digest string `yaml:"digest"`
			Type   string `yaml:"type"`
		} `yaml:"layers"`
		Overlay string `yaml:"overlay"`
		Network string `yaml:"network"`
	} `yaml:"container"`
}

func loadJobSpec(path string) (proto.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return proto.JobSpec{}, err
	}
	var file jobSpecFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return proto.JobSpec{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	spec := proto.JobSpec{
		Program:        file.Program,
		Args:           file.Args,
		TimeoutSeconds: file.TimeoutSeconds,
		Priority:       file.Priority,
		Container: proto.ContainerSpec{
			Overlay: proto.OverlayMode(file.Container.Overlay),
			Network: proto.NetworkMode(file.Container.Network),
		},
	}
	for _, l := range file.Container.Layers {
		d, err := digest.Parse(l.Digest)
		if err != nil {
			return proto.JobSpec{}, fmt.Errorf("layer digest %q: %w", l.Digest, err)
		}
		spec.Container.Layers = append(spec.Container.Layers, proto.Layer{
			Digest: d,
			Type:   proto.ArtifactType(l.Type),
		})
	}
	return spec, nil
}

// directoryArtifactSource answers ArtifactRequests from files named
// by hex digest in a local directory — a stand-in for whatever real
// layer store a full client would maintain (out of core scope).
type directoryArtifactSource struct {
	dir string
}

func (s *directoryArtifactSource) Open(d digest.Digest) (io.ReadCloser, int64, error) {
	if s.dir == "" {
		return nil, 0, fmt.Errorf("no --artifact-dir configured, cannot serve %s", d)
	}
	path := filepath.Join(s.dir, d.String())
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// outcomePrinter implements client.EventHandler for the CLI: it logs
// every status update as it arrives and signals done once the job's
// outcome is known.
type outcomePrinter struct {
	stdout io.Writer
	done   chan proto.Outcome
}

func newOutcomePrinter(stdout io.Writer) *outcomePrinter {
	return &outcomePrinter{stdout: stdout, done: make(chan proto.Outcome, 1)}
}

func (p *outcomePrinter) OnJobStatusUpdate(jobId proto.JobId, status proto.JobStatus) {
	fmt.Fprintf(p.stdout, "[%s] %s %s\n", time.Now().Format(time.RFC3339), jobId, status.Phase)
}

func (p *outcomePrinter) OnJobOutcome(jobId proto.JobId, outcome proto.Outcome) {
	p.done <- outcome
}

func printOutcome(stdout io.Writer, outcome proto.Outcome) error {
	switch outcome.Kind {
	case proto.OutcomeCompleted, proto.OutcomeTimedOut:
		exitCode := int32(-1)
		if outcome.ExitCode != nil {
			exitCode = *outcome.ExitCode
		}
		fmt.Fprintf(stdout, "%s: exit code %d\n", outcome.Kind, exitCode)
		if outcome.Stdout != nil {
			stdoutOut := outcome.Stdout
			fmt.Fprintf(stdout, "--- stdout (%d bytes truncated) ---\n%s\n", stdoutOut.Truncated, stdoutOut.Data)
		}
		if outcome.Stderr != nil {
			stderrOut := outcome.Stderr
			fmt.Fprintf(stdout, "--- stderr (%d bytes truncated) ---\n%s\n", stderrOut.Truncated, stderrOut.Data)
		}
		if outcome.Kind == proto.OutcomeTimedOut {
			return fmt.Errorf("job timed out")
		}
		return nil
	default:
		return fmt.Errorf("%s: %s", outcome.ErrorKind, outcome.ErrorMessage)
	}
}
