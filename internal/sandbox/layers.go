// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/maelstrom-ci/maelstrom/internal/digest"
	"github.com/maelstrom-ci/maelstrom/internal/proto"
	"github.com/maelstrom-ci/maelstrom/internal/wire"
)

// LayerSource opens the content of an artifact by digest. The worker
// satisfies this with a pinned cache.Handle; tests can supply an
// in-memory fake.
type LayerSource interface {
	Open(d digest.Digest) (io.ReadCloser, error)
}

// MaterializeLayers implements spec §4.3 assembly step 2: each layer
// is extracted, in order, into the same scratch directory, so later
// layers shadow earlier ones at matching paths. A manifest-typed
// layer expands to its entries, each materialized at its declared
// path relative to the current position in the tree.
func MaterializeLayers(dest string, layers []proto.Layer, src LayerSource) error {
	for _, layer := range layers {
		if err := materializeLayer(dest, "", layer, src); err != nil {
			return err
		}
	}
	return nil
}

func materializeLayer(root, subpath string, layer proto.Layer, src LayerSource) error {
	r, err := src.Open(layer.Digest)
	if err != nil {
		return fmt.Errorf("sandbox: opening layer %s: %w", layer.Digest, err)
	}
	defer r.Close()

	switch layer.Type {
	case proto.ArtifactTar:
		return extractTar(r, filepath.Join(root, subpath))

	case proto.ArtifactManifest:
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("sandbox: reading manifest %s: %w", layer.Digest, err)
		}
		var manifest proto.Manifest
		if err := wire.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("sandbox: decoding manifest %s: %w", layer.Digest, err)
		}
		for _, entry := range manifest.Entries {
			if err := materializeLayer(root, filepath.Join(subpath, entry.Path), entry.Ref, src); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("sandbox: layer %s has unknown artifact type %q", layer.Digest, layer.Type)
	}
}

// extractTar unpacks a tar stream into dest, creating dest if needed.
// Entry names are joined under dest, so an absolute name lands inside
// dest rather than at that host path. Entries whose ".." components
// would resolve outside dest are rejected rather than silently
// skipped, since that is always either a corrupt artifact or an
// attempt to write outside the scratch tree.
func extractTar(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("sandbox: creating layer root %s: %w", dest, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sandbox: reading tar entry: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("sandbox: creating directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("sandbox: creating parent of %s: %w", target, err)
			}
			if err := writeTarFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("sandbox: creating parent of %s: %w", target, err)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("sandbox: creating symlink %s: %w", target, err)
			}

		case tar.TypeLink:
			linkTarget, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("sandbox: creating hard link %s: %w", target, err)
			}

		default:
			// Device nodes and fifos inside layer content are not
			// expected for job artifacts (spec §3 reserves device
			// creation for ContainerSpec.Mounts); skip silently.
		}
	}
}

func writeTarFile(target string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("sandbox: creating file %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("sandbox: writing file %s: %w", target, err)
	}
	return nil
}

// safeJoin joins dest and name, rejecting names that would resolve
// outside dest.
func safeJoin(dest, name string) (string, error) {
	joined := filepath.Join(dest, name)
	if joined != dest && !strings.HasPrefix(joined, dest+string(filepath.Separator)) {
		return "", fmt.Errorf("sandbox: tar entry %q escapes layer root", name)
	}
	return joined, nil
}
