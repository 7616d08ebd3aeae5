// Package assemble builds the final OCI image layout — config JSON,
// manifest JSON, index.json, oci-layout, and every blob — and streams
// it out as a single deterministic tar archive. The archive framing
// reuses the containerd OCI layout exporter's tarRecord{Header,
// CopyTo} pattern (images/archive/exporter.go): build a sorted slice
// of named records, then write each through one tar.Writer, applying
// the same determinism rules the layer tars use (fixed timestamps,
// byte-lexicographic name order).
package assemble

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	digest "github.com/opencontainers/go-digest"
	specsgo "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/chunkah/chunkah/internal/layer"
)

// LayerInput is one packed-and-written bucket, ready for inclusion in
// the final image: its compression result plus the annotation fields
// carried on the manifest's layer descriptors.
type LayerInput struct {
	Write      layer.Result
	Components string // comma-joined component ids, descending size
	Stability  string // formatted to three decimals
}

// Assemble writes the complete OCI image layout as a tar stream to w.
// base is the image config derived by internal/imageconfig, with
// RootFS and History still zero-valued; Assemble fills both in from
// layers, skipping any layer with zero size — one history entry per
// non-empty layer. epoch stamps every archive entry's timestamp,
// matching the layer tars' own determinism rule.
func Assemble(w io.Writer, base ocispec.Image, layers []LayerInput, epoch int64) error {
	var nonEmpty []LayerInput
	for _, l := range layers {
		if l.Write.Size > 0 {
			nonEmpty = append(nonEmpty, l)
		}
	}

	img := base
	img.RootFS = ocispec.RootFS{Type: "layers"}
	img.History = make([]ocispec.History, 0, len(nonEmpty))
	for _, l := range nonEmpty {
		img.RootFS.DiffIDs = append(img.RootFS.DiffIDs, l.Write.DiffID)
		created := time.Unix(epoch, 0).UTC()
		img.History = append(img.History, ocispec.History{
			Created:   &created,
			CreatedBy: "chunkah",
			Comment:   l.Components,
		})
	}

	configBytes, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("assemble: marshal config: %w", err)
	}
	configDigest := digest.FromBytes(configBytes)

	manifest := ocispec.Manifest{
		Versioned: specsV1Versioned(),
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    configDigest,
			Size:      int64(len(configBytes)),
		},
	}
	for _, l := range nonEmpty {
		manifest.Layers = append(manifest.Layers, ocispec.Descriptor{
			MediaType: l.Write.MediaType,
			Digest:    l.Write.BlobDigest,
			Size:      l.Write.Size,
			Annotations: map[string]string{
				"org.chunkah.component": l.Components,
				"org.chunkah.stability":  l.Stability,
			},
		})
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("assemble: marshal manifest: %w", err)
	}
	manifestDigest := digest.FromBytes(manifestBytes)

	index := ocispec.Index{
		Versioned: specsV1Versioned(),
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageManifest,
			Digest:    manifestDigest,
			Size:      int64(len(manifestBytes)),
		}},
	}
	indexBytes, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("assemble: marshal index: %w", err)
	}

	layoutBytes, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return fmt.Errorf("assemble: marshal oci-layout: %w", err)
	}

	records := []tarRecord{
		staticRecord("oci-layout", layoutBytes),
		staticRecord("index.json", indexBytes),
		staticRecord(blobPath(manifestDigest), manifestBytes),
		staticRecord(blobPath(configDigest), configBytes),
	}
	for _, l := range nonEmpty {
		records = append(records, fileRecord(blobPath(l.Write.BlobDigest), l.Write.StagePath, l.Write.Size))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].name < records[j].name })

	tw := tar.NewWriter(w)
	for _, r := range records {
		if err := r.writeTo(tw, epoch); err != nil {
			return fmt.Errorf("assemble: %s: %w", r.name, err)
		}
	}
	return tw.Close()
}

func blobPath(d digest.Digest) string {
	return "blobs/" + d.Algorithm().String() + "/" + d.Encoded()
}

// tarRecord is a single named entry in the output archive, with either
// in-memory content or content that must be streamed from a staged
// file on disk (a compressed layer blob).
type tarRecord struct {
	name string
	size int64
	open func() (io.ReadCloser, error)
}

func staticRecord(name string, content []byte) tarRecord {
	return tarRecord{
		name: name,
		size: int64(len(content)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

func fileRecord(name, path string, size int64) tarRecord {
	return tarRecord{
		name: name,
		size: size,
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

func (r tarRecord) writeTo(tw *tar.Writer, epoch int64) error {
	hdr := &tar.Header{
		Name:       r.name,
		Mode:       0o644,
		Size:       r.size,
		Typeflag:   tar.TypeReg,
		Format:     tar.FormatPAX, // keeps AccessTime/ChangeTime, as in the layer tars
		ModTime:    time.Unix(epoch, 0),
		AccessTime: time.Unix(epoch, 0),
		ChangeTime: time.Unix(epoch, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	rc, err := r.open()
	if err != nil {
		return err
	}
	defer rc.Close()
	n, err := io.Copy(tw, rc)
	if err != nil {
		return err
	}
	if n != r.size {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, r.size)
	}
	return nil
}

func specsV1Versioned() specsgo.Versioned {
	return specsgo.Versioned{SchemaVersion: 2}
}
