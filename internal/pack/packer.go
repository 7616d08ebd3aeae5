// Package pack implements a greedy longest-processing-time bin packer
// that must reproduce the exact same bucket assignment on every run
// over the same input: it is the repo's only algorithmic stage that
// must not wiggle however slightly between builds, since registries
// memoize layers by digest.
package pack

import (
	"math"
	"sort"
	"strconv"

	"github.com/chunkah/chunkah/internal/model"
)

// Result is one packed bucket, in final emission order: ascending mean
// stability, ties broken by ascending pre-reorder bucket index.
type Result struct {
	Components []string // descending size, matching the manifest annotation order
	Stability  string    // formatted to three decimals, round-half-away-from-zero
	StabilityF float64
}

// Pack partitions components into at most n buckets using greedy
// longest-processing-time bin packing.
func Pack(components []model.Component, n int) []Result {
	if n <= 0 {
		n = 1
	}

	if len(components) <= n {
		return packOnePerBucket(components)
	}

	sorted := append([]model.Component(nil), components...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size > sorted[j].Size
		}
		return sorted[i].ID < sorted[j].ID
	})

	buckets := make([]*bucketAcc, n)
	for i := range buckets {
		buckets[i] = &bucketAcc{}
	}

	for _, c := range sorted {
		idx := smallestBucket(buckets)
		buckets[idx].add(c)
	}

	var results []Result
	for _, b := range buckets {
		if len(b.components) == 0 {
			continue
		}
		results = append(results, b.finalize())
	}

	sortByStabilityThenIndex(results)
	return results
}

type bucketAcc struct {
	components []model.Component
	totalSize  uint64
	weighted   float64 // sum(stability * size)
	origIndex  int
}

func (b *bucketAcc) add(c model.Component) {
	b.components = append(b.components, c)
	b.totalSize += c.Size
	b.weighted += c.Stability * float64(c.Size)
}

func (b *bucketAcc) finalize() Result {
	sorted := append([]model.Component(nil), b.components...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size > sorted[j].Size
		}
		return sorted[i].ID < sorted[j].ID
	})
	ids := make([]string, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}

	mean := 0.0
	if b.totalSize > 0 {
		mean = b.weighted / float64(b.totalSize)
	}
	return Result{
		Components: ids,
		Stability:  FormatStability(mean),
		StabilityF: mean,
	}
}

// smallestBucket returns the index of the bucket with the smallest
// total size, ties broken by smallest index.
func smallestBucket(buckets []*bucketAcc) int {
	best := 0
	for i := 1; i < len(buckets); i++ {
		if buckets[i].totalSize < buckets[best].totalSize {
			best = i
		}
	}
	return best
}

// packOnePerBucket handles the |C| <= N degenerate case: every
// component gets its own bucket, emitted in ascending stability order.
func packOnePerBucket(components []model.Component) []Result {
	results := make([]Result, 0, len(components))
	for _, c := range components {
		results = append(results, Result{
			Components: []string{c.ID},
			Stability:  FormatStability(c.Stability),
			StabilityF: c.Stability,
		})
	}
	sortByStabilityThenIndex(results)
	return results
}

// sortByStabilityThenIndex orders results by ascending mean stability,
// ties broken by ascending original bucket index. Go's
// sort.SliceStable over the pre-sort slice order preserves ties at
// their current relative order, which already reflects ascending
// original bucket index because buckets are iterated in index order
// above.
func sortByStabilityThenIndex(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StabilityF < results[j].StabilityF
	})
}

// FormatStability renders v to three decimal places using
// round-half-away-from-zero. Go's strconv/fmt round to nearest-even on
// ties, which disagrees with this on exact .0005 boundaries.
func FormatStability(v float64) string {
	scaled := v * 1000
	var rounded float64
	if scaled >= 0 {
		rounded = math.Floor(scaled + 0.5)
	} else {
		rounded = math.Ceil(scaled - 0.5)
	}
	return strconv.FormatFloat(rounded/1000, 'f', 3, 64)
}
