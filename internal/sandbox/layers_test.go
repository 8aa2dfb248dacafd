// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

type fakeSource struct {
	blobs map[digest.Digest][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{blobs: make(map[digest.Digest][]byte)}
}

func (f *fakeSource) put(content []byte) digest.Digest {
	d := digest.SumBytes(content)
	f.blobs[d] = content
	return d
}

func (f *fakeSource) Open(d digest.Digest) (io.ReadCloser, error) {
	b, ok := f.blobs[d]
	if !ok {
		t := "sandbox_test: unknown digest " + d.String()
		panic(t)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	return buf.Bytes()
}

func TestMaterializeLayersLaterLayerShadowsEarlier(t *testing.T) {
	src := newFakeSource()
	base := src.put(buildTar(t, map[string]string{"a.txt": "base", "shared.txt": "base-shared"}))
	top := src.put(buildTar(t, map[string]string{"shared.txt": "top-shared"}))

	dest := t.TempDir()
	layers := []proto.Layer{
		{Digest: base, Type: proto.ArtifactTar},
		{Digest: top, Type: proto.ArtifactTar},
	}
	if err := MaterializeLayers(dest, layers, src); err != nil {
		t.Fatalf("MaterializeLayers: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil || string(got) != "base" {
		t.Fatalf("a.txt = %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(dest, "shared.txt"))
	if err != nil || string(got) != "top-shared" {
		t.Fatalf("shared.txt = %q, %v, want top-shared", got, err)
	}
}

func TestMaterializeLayersExpandsManifest(t *testing.T) {
	src := newFakeSource()
	sub := src.put(buildTar(t, map[string]string{"bin/tool": "binary-content"}))

	manifestBytes, err := wire.Marshal(&proto.Manifest{
		Entries: []proto.ManifestEntry{
			{Path: "opt/pkg", Ref: proto.Layer{Digest: sub, Type: proto.ArtifactTar}},
		},
	})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	manifestDigest := src.put(manifestBytes)

	dest := t.TempDir()
	layers := []proto.Layer{{Digest: manifestDigest, Type: proto.ArtifactManifest}}
	if err := MaterializeLayers(dest, layers, src); err != nil {
		t.Fatalf("MaterializeLayers: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "opt", "pkg", "bin", "tool"))
	if err != nil || string(got) != "binary-content" {
		t.Fatalf("expanded manifest content = %q, %v", got, err)
	}
}

func TestExtractTarRejectsPathEscape(t *testing.T) {
	archive := buildTar(t, map[string]string{"../../etc/passwd": "malicious"})
	dest := t.TempDir()
	err := extractTar(bytes.NewReader(archive), dest)
	if err == nil {
		t.Fatal("expected an error rejecting a path-escaping tar entry")
	}
}
