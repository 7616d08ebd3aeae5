package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// readOuterArchive indexes every entry in the top-level OCI layout tar
// by name, for direct lookup of index.json, manifests, and blobs.
func readOuterArchive(t *testing.T, r io.Reader) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		buf, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = buf
	}
	return out
}

func extractLayer(t *testing.T, compressed []byte, destDir string) []string {
	t.Helper()
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer dec.Close()

	var names []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			require.NoError(t, os.MkdirAll(target, 0o755))
		case tar.TypeReg:
			require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
			f, err := os.Create(target)
			require.NoError(t, err)
			_, err = io.Copy(f, tr)
			require.NoError(t, err)
			require.NoError(t, f.Close())
		case tar.TypeSymlink:
			require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
			_ = os.Symlink(hdr.Linkname, target)
		case tar.TypeLink:
			// A real extractor links against a path already materialized
			// within this same tar stream. If the hardlink's target
			// landed in a different layer, this Link call fails because
			// each layer is extracted into its own isolated directory
			// before the union mount happens.
			require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
			require.NoError(t, os.Link(filepath.Join(destDir, hdr.Linkname), target))
		}
	}
	return names
}

func TestBuildRoundTrip(t *testing.T) {
	rootfs := t.TempDir()
	writeFile(t, rootfs, "etc/os-release", "NAME=test\n")
	writeFile(t, rootfs, "usr/bin/app", "#!/bin/sh\necho hi\n")
	writeFile(t, rootfs, "usr/lib/libfoo.so", "binary-content")
	writeFile(t, rootfs, "var/lib/rpm/.rpm-manifest.json", `{
		"packages": {
			"app": ["/usr/bin/app"],
			"glibc": ["/usr/lib/libfoo.so"]
		}
	}`)

	var out bytes.Buffer
	opts := New(&out,
		WithRootDir(rootfs),
		WithConfigStr(`{"Architecture":"amd64","Os":"linux","Config":{"Env":["PATH=/usr/bin"]}}`),
		WithLayerCount(8),
		WithStagingDir(t.TempDir()),
	)

	require.NoError(t, Build(context.Background(), opts))

	files := readOuterArchive(t, &out)
	require.Contains(t, files, "oci-layout")
	require.Contains(t, files, "index.json")

	var index ocispec.Index
	require.NoError(t, json.Unmarshal(files["index.json"], &index))
	require.Len(t, index.Manifests, 1)

	manifestPath := "blobs/" + index.Manifests[0].Digest.Algorithm().String() + "/" + index.Manifests[0].Digest.Encoded()
	require.Contains(t, files, manifestPath)

	var manifest ocispec.Manifest
	require.NoError(t, json.Unmarshal(files[manifestPath], &manifest))
	require.NotEmpty(t, manifest.Layers)

	configPath := "blobs/" + manifest.Config.Digest.Algorithm().String() + "/" + manifest.Config.Digest.Encoded()
	require.Contains(t, files, configPath)

	var img ocispec.Image
	require.NoError(t, json.Unmarshal(files[configPath], &img))
	assert.Equal(t, "amd64", img.Architecture)
	assert.Len(t, img.RootFS.DiffIDs, len(manifest.Layers))
	assert.Len(t, img.History, len(manifest.Layers))

	extractDir := t.TempDir()
	var allNames []string
	for _, l := range manifest.Layers {
		blobPath := "blobs/" + l.Digest.Algorithm().String() + "/" + l.Digest.Encoded()
		require.Contains(t, files, blobPath)
		assert.NotEmpty(t, l.Annotations["org.chunkah.component"])
		assert.NotEmpty(t, l.Annotations["org.chunkah.stability"])
		allNames = append(allNames, extractLayer(t, files[blobPath], extractDir)...)
	}

	assert.Contains(t, allNames, "usr/bin/app")
	assert.Contains(t, allNames, "usr/lib/libfoo.so")
	assert.Contains(t, allNames, "etc/os-release")

	got, err := os.ReadFile(filepath.Join(extractDir, "usr/bin/app"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(got))
}

// TestBuildHardlinkAcrossComponentsStaysInOneLayer covers the case
// where two hardlinked paths are claimed by two different packages (a
// license file or config fragment installed by both). Without
// coalescing the hardlink group onto one primary component, the two
// paths would pack into different layers and the hardlink entry's
// Linkname would dangle once each layer is extracted in isolation.
func TestBuildHardlinkAcrossComponentsStaysInOneLayer(t *testing.T) {
	rootfs := t.TempDir()
	writeFile(t, rootfs, "etc/os-release", "NAME=test\n")
	writeFile(t, rootfs, "usr/share/licenses/pkg-a/LICENSE", "shared license text\n")
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "usr/share/licenses/pkg-b"), 0o755))
	require.NoError(t, os.Link(
		filepath.Join(rootfs, "usr/share/licenses/pkg-a/LICENSE"),
		filepath.Join(rootfs, "usr/share/licenses/pkg-b/LICENSE"),
	))
	writeFile(t, rootfs, "var/lib/rpm/.rpm-manifest.json", `{
		"packages": {
			"zzz-pkg": ["/usr/share/licenses/pkg-a/LICENSE"],
			"aaa-pkg": ["/usr/share/licenses/pkg-b/LICENSE"]
		}
	}`)

	var out bytes.Buffer
	opts := New(&out,
		WithRootDir(rootfs),
		WithConfigStr(`{"Architecture":"amd64","Os":"linux"}`),
		WithLayerCount(8),
		WithStagingDir(t.TempDir()),
	)
	require.NoError(t, Build(context.Background(), opts))

	files := readOuterArchive(t, &out)
	var index ocispec.Index
	require.NoError(t, json.Unmarshal(files["index.json"], &index))

	manifestPath := "blobs/" + index.Manifests[0].Digest.Algorithm().String() + "/" + index.Manifests[0].Digest.Encoded()
	var manifest ocispec.Manifest
	require.NoError(t, json.Unmarshal(files[manifestPath], &manifest))

	const pathA = "usr/share/licenses/pkg-a/LICENSE"
	const pathB = "usr/share/licenses/pkg-b/LICENSE"

	var sawPair bool
	for _, l := range manifest.Layers {
		blobPath := "blobs/" + l.Digest.Algorithm().String() + "/" + l.Digest.Encoded()
		require.Contains(t, files, blobPath)

		// extractLayer links hdr.Linkname against this layer's own,
		// freshly extracted tree; it fails the test if a hardlink's
		// target isn't present in the same layer.
		names := extractLayer(t, files[blobPath], t.TempDir())

		hasA := contains(names, pathA)
		hasB := contains(names, pathB)
		if hasA || hasB {
			assert.True(t, hasA && hasB, "hardlinked paths must land in the same layer, got %v", names)
			sawPair = true
		}
	}
	assert.True(t, sawPair, "expected to find the hardlinked license pair in some layer")
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func TestBuildDirectoryOnlyRootfs(t *testing.T) {
	rootfs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rootfs, "etc", "empty"), 0o755))

	var out bytes.Buffer
	opts := New(&out,
		WithRootDir(rootfs),
		WithConfigStr(`{"Architecture":"amd64","Os":"linux"}`),
		WithLayerCount(8),
		WithStagingDir(t.TempDir()),
	)

	require.NoError(t, Build(context.Background(), opts))

	files := readOuterArchive(t, &out)
	require.Contains(t, files, "index.json")
}

func TestBuildMissingRootDirFails(t *testing.T) {
	var out bytes.Buffer
	opts := New(&out, WithConfigStr(`{}`))
	err := Build(context.Background(), opts)
	assert.Error(t, err)
}
