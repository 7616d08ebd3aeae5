// Package engine wires the Walker, Attributor, Stability Oracle,
// Packer, Tar Emitter, Layer Writer, and Image Assembler into a single
// Build entry point, applying bounded concurrency across the fan-out
// stages and failing the whole build on the first error.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/chunkah/chunkah/internal/assemble"
	"github.com/chunkah/chunkah/internal/attribute"
	"github.com/chunkah/chunkah/internal/imageconfig"
	"github.com/chunkah/chunkah/internal/layer"
	"github.com/chunkah/chunkah/internal/model"
	"github.com/chunkah/chunkah/internal/pack"
	"github.com/chunkah/chunkah/internal/stability"
	"github.com/chunkah/chunkah/internal/tarenc"
	"github.com/chunkah/chunkah/internal/walk"
)

// Build runs the full pipeline and writes the resulting OCI image
// layout tarball to opts.Output. It fails fatally on the first error
// encountered anywhere in the pipeline, so no partial archive ever
// reaches the output stream: Build stages every layer blob under
// opts.StagingDir and only begins writing to Output once every stage
// upstream of assembly has succeeded.
func Build(ctx context.Context, opts Options) error {
	if opts.RootDir == "" {
		return fmt.Errorf("engine: RootDir is required")
	}
	staging := opts.StagingDir
	if staging == "" {
		dir, err := os.MkdirTemp("", "chunkah-staging-")
		if err != nil {
			return fmt.Errorf("engine: create staging dir: %w", err)
		}
		defer os.RemoveAll(dir)
		staging = dir
	}

	opts.Logger.InfoContext(ctx, "parsing image config")
	baseImage, err := imageconfig.Parse(opts.ConfigStr)
	if err != nil {
		return err
	}

	opts.Logger.InfoContext(ctx, "walking rootfs", "root", opts.RootDir)
	entries, err := walk.Walk(ctx, opts.RootDir, walk.Options{
		PruneTmp:    opts.PruneTmp,
		Prune:       opts.Prune,
		HashWorkers: opts.HashWorkers,
		Progress:    opts.Progress,
	})
	if err != nil {
		return err
	}

	attributor, err := attribute.NewRPMAttributor(opts.RootDir)
	if err != nil {
		return err
	}

	opts.Logger.InfoContext(ctx, "attributing paths", "entries", len(entries))
	ledger, err := attribute.Build(entries, attributor)
	if err != nil {
		return err
	}

	components := buildComponents(ledger)
	opts.Logger.InfoContext(ctx, "packing components", "components", len(components), "layers", opts.LayerCount)
	packed := pack.Pack(components, opts.LayerCount)

	buckets := buildBuckets(ledger, packed)

	opts.Logger.InfoContext(ctx, "emitting and compressing layers", "buckets", len(buckets))
	results, err := emitBuckets(ctx, opts, buckets, staging)
	if err != nil {
		return err
	}

	opts.Logger.InfoContext(ctx, "assembling image")
	return assemble.Assemble(opts.Output, baseImage, results, opts.Epoch)
}

// buildComponents aggregates every entry's primary component into the
// byte size and path count the packer needs, and scores each with the
// stability oracle.
func buildComponents(ledger *attribute.Ledger) []model.Component {
	agg := map[string]*model.Component{}
	order := []string{}

	get := func(id string) *model.Component {
		c, ok := agg[id]
		if !ok {
			c = &model.Component{ID: id, Stability: stability.Score(id)}
			agg[id] = c
			order = append(order, id)
		}
		return c
	}

	for _, e := range ledger.Entries {
		if e.IsDir() {
			continue
		}
		id, ok := ledger.Primary[e.Path]
		if !ok {
			id = model.Unattributed
		}
		c := get(id)
		c.Size += e.Size
		c.PathCount++
	}

	sort.Strings(order)
	out := make([]model.Component, 0, len(order))
	for _, id := range order {
		out = append(out, *agg[id])
	}
	return out
}

// buildBuckets assigns every walked entry to the bucket(s) its
// component(s) landed in. A directory whose descendants span more than
// one bucket is replicated into each of those buckets so every layer's
// tree stays well-formed. A directory with no attributed descendants
// (an empty subtree) falls back to the first bucket in emission order.
// A rootfs with no non-directory entries at all (packed is empty)
// still gets one bucket, so directory-only trees produce a single,
// layer-less-content image instead of an out-of-range index.
func buildBuckets(ledger *attribute.Ledger, packed []pack.Result) []model.Bucket {
	n := len(packed)
	if n == 0 {
		n = 1
	}
	buckets := make([]model.Bucket, n)
	componentBucket := map[string]int{}
	for i, r := range packed {
		buckets[i] = model.Bucket{Index: i, Components: r.Components, Stability: r.StabilityF}
		for _, id := range r.Components {
			componentBucket[id] = i
		}
	}

	for _, e := range ledger.Entries {
		if e.IsDir() {
			targets := dirBucketTargets(ledger.DirComponents[e.Path], componentBucket)
			for _, t := range targets {
				buckets[t].Entries = append(buckets[t].Entries, e)
			}
			continue
		}
		id, ok := ledger.Primary[e.Path]
		if !ok {
			id = model.Unattributed
		}
		idx, ok := componentBucket[id]
		if !ok {
			idx = 0
		}
		buckets[idx].Entries = append(buckets[idx].Entries, e)
	}

	return buckets
}

func dirBucketTargets(componentIDs []string, componentBucket map[string]int) []int {
	if len(componentIDs) == 0 {
		return []int{0}
	}
	seen := map[int]struct{}{}
	for _, id := range componentIDs {
		if idx, ok := componentBucket[id]; ok {
			seen[idx] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []int{0}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// emitBuckets runs the per-bucket tar emission and compression fan-out
// across a bounded pool of workers, each streaming one bucket's tar
// directly into its compressor through an in-memory pipe rather than
// staging an intermediate uncompressed tar file.
func emitBuckets(ctx context.Context, opts Options, buckets []model.Bucket, staging string) ([]assemble.LayerInput, error) {
	workers := opts.BucketWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(buckets) && len(buckets) > 0 {
		workers = len(buckets)
	}

	results := make([]assemble.LayerInput, len(buckets))
	sem := make(chan struct{}, workers)
	eg, egCtx := errgroup.WithContext(ctx)

	for i, b := range buckets {
		i, b := i, b
		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()
			if err := egCtx.Err(); err != nil {
				return err
			}

			pr, pw := io.Pipe()
			var emitErr error
			go func() {
				emitErr = tarenc.Emit(pw, opts.RootDir, b.Entries, opts.Epoch)
				pw.CloseWithError(emitErr)
			}()

			written, err := layer.Write(pr, staging, opts.Compression)
			if err != nil {
				return fmt.Errorf("emit bucket %d: %w", b.Index, err)
			}
			if emitErr != nil {
				return fmt.Errorf("emit bucket %d: %w", b.Index, emitErr)
			}

			if opts.Progress != nil {
				opts.Progress(model.ProgressEvent{Stage: model.StageCompressing, Path: fmt.Sprintf("layer-%d", b.Index), Done: i + 1, Total: len(buckets)})
			}

			results[i] = assemble.LayerInput{
				Write:      written,
				Components: b.ComponentCSV(),
				Stability:  formatBucketStability(b),
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func formatBucketStability(b model.Bucket) string {
	return pack.FormatStability(b.Stability)
}
