// Package layer wraps a tar stream in a compressor while computing
// both the uncompressed digest (the diff_id) and the compressed digest
// (the blob digest), using klauspost/compress's zstd encoder and
// opencontainers/go-digest for the sha256 values.
package layer

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Compression selects the layer compression backend.
type Compression int

const (
	CompressionZstd Compression = iota
	CompressionGzip
)

// Result describes one written, staged layer blob.
type Result struct {
	DiffID     digest.Digest // uncompressed tar digest
	BlobDigest digest.Digest // compressed digest
	Size       int64         // compressed size, for the manifest descriptor
	StagePath  string        // final path of the blob, directly under the staging dir
	MediaType  string
}

// Write compresses the bytes read from tar into a content-addressed
// file under stagingDir, returning both the uncompressed and
// compressed digests. The blob's final name (the sha256 hex) is only
// known once every byte has been written, so Write stages under a
// random name first (one unique filename per worker) and renames into
// place on success.
func Write(tarStream io.Reader, stagingDir string, comp Compression) (Result, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("layer: mkdir staging: %w", err)
	}

	tmpPath := filepath.Join(stagingDir, ".tmp-"+uuid.NewString())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644) //nolint:gosec // content-addressed staging file
	if err != nil {
		return Result{}, fmt.Errorf("layer: create staging file: %w", err)
	}

	diffHasher := sha256.New()
	blobHasher := sha256.New()
	counting := &countingWriter{w: io.MultiWriter(f, blobHasher)}

	mediaType, err := compressInto(counting, io.TeeReader(tarStream, diffHasher), comp)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("layer: compress: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("layer: close staging file: %w", err)
	}

	blobDigest := digest.NewDigestFromEncoded(digest.SHA256, hexSum(blobHasher))
	finalPath := filepath.Join(stagingDir, blobDigest.Encoded())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("layer: stage blob: %w", err)
	}

	return Result{
		DiffID:     digest.NewDigestFromEncoded(digest.SHA256, hexSum(diffHasher)),
		BlobDigest: blobDigest,
		Size:       counting.n,
		StagePath:  finalPath,
		MediaType:  mediaType,
	}, nil
}

func compressInto(w io.Writer, r io.Reader, comp Compression) (string, error) {
	switch comp {
	case CompressionGzip:
		gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(gz, r); err != nil {
			gz.Close()
			return "", err
		}
		if err := gz.Close(); err != nil {
			return "", err
		}
		return ocispec.MediaTypeImageLayerGzip, nil
	default:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(enc, r); err != nil {
			enc.Close()
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		return ocispec.MediaTypeImageLayerZstd, nil
	}
}

func hexSum(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
