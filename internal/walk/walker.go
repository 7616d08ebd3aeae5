// Package walk enumerates a rootfs into a canonically ordered stream of
// model.Entry records with full metadata and content digests. It walks
// with os.OpenRoot plus fs.WalkDir, which already visits entries in
// lexical order — a directory before its children, siblings sorted by
// byte-lexicographic name.
package walk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chunkah/chunkah/internal/model"
	"github.com/chunkah/chunkah/internal/platform"
)

// Options configures a walk.
type Options struct {
	// PruneTmp empties /run, /tmp, /var/tmp (the directories themselves
	// are kept).
	PruneTmp bool

	// Prune lists additional exact-match paths (and their subtrees) to
	// omit entirely.
	Prune []string

	// HashWorkers bounds the content-hashing pool. Zero uses
	// runtime.GOMAXPROCS(0).
	HashWorkers int

	// Progress receives incremental walk progress. May be nil.
	Progress model.ProgressFunc
}

var prunedRoots = []string{"/run", "/tmp", "/var/tmp"}

// Walk enumerates rootDir and returns its entries in canonical order.
// It fails fatally (returns an error immediately) on any stat, read, or
// xattr failure, so callers never see a partial tree.
func Walk(ctx context.Context, rootDir string, opts Options) ([]model.Entry, error) {
	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return nil, fmt.Errorf("walk: open root: %w", err)
	}
	defer root.Close()

	emptyRoots, excludeSet := buildPruneSets(opts)

	type rawEntry struct {
		relPath string
		info    fs.FileInfo
	}
	var raws []rawEntry

	walkErr := fs.WalkDir(root.FS(), ".", func(relPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", relPath, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		abs := toAbs(relPath)
		if matchesSet(abs, excludeSet) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if _, isEmptyRoot := emptyRoots[abs]; isEmptyRoot && d.IsDir() {
			// Keep the directory entry itself but skip its contents:
			// --prune-tmp empties /run, /tmp, /var/tmp without removing
			// the directories.
			info, err := lstatRel(root, relPath)
			if err != nil {
				return fmt.Errorf("walk: stat %s: %w", abs, err)
			}
			raws = append(raws, rawEntry{relPath: relPath, info: info})
			return fs.SkipDir
		}

		info, err := lstatRel(root, relPath)
		if err != nil {
			return fmt.Errorf("walk: stat %s: %w", abs, err)
		}
		raws = append(raws, rawEntry{relPath: relPath, info: info})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	devInoFirst := map[model.DevIno]string{}
	entries := make([]model.Entry, 0, len(raws))

	for i, re := range raws {
		if opts.Progress != nil {
			opts.Progress(model.ProgressEvent{Stage: model.StageWalking, Path: toAbs(re.relPath), Done: i + 1, Total: len(raws)})
		}

		entry, err := buildEntry(root, re.relPath, re.info, devInoFirst)
		if err != nil {
			return nil, fmt.Errorf("walk: %s: %w", toAbs(re.relPath), err)
		}
		entries = append(entries, entry)
	}

	hashed, err := hashRegulars(ctx, root, entries, opts.HashWorkers)
	if err != nil {
		return nil, err
	}

	return hashed, nil
}

// buildPruneSets splits the walk's exclusions into two kinds: emptyRoots
// (--prune-tmp's /run, /tmp, /var/tmp — the directory entry is kept,
// its contents are not) and excludeSet (--prune's explicit paths — the
// path and its entire subtree are omitted).
func buildPruneSets(opts Options) (emptyRoots, excludeSet map[string]struct{}) {
	emptyRoots = map[string]struct{}{}
	if opts.PruneTmp {
		for _, p := range prunedRoots {
			emptyRoots[p] = struct{}{}
		}
	}
	excludeSet = map[string]struct{}{}
	for _, p := range opts.Prune {
		excludeSet[path.Clean("/"+strings.TrimPrefix(p, "/"))] = struct{}{}
	}
	return emptyRoots, excludeSet
}

func matchesSet(abs string, set map[string]struct{}) bool {
	for p := range set {
		if abs == p || strings.HasPrefix(abs, p+"/") {
			return true
		}
	}
	return false
}

func toAbs(relPath string) string {
	if relPath == "." {
		return "/"
	}
	return "/" + relPath
}

func lstatRel(root *os.Root, relPath string) (fs.FileInfo, error) {
	if relPath == "." {
		return root.Lstat(".")
	}
	return root.Lstat(relPath)
}

func buildEntry(root *os.Root, relPath string, info fs.FileInfo, devInoFirst map[model.DevIno]string) (model.Entry, error) {
	abs := toAbs(relPath)
	uid, gid, dev, ino := platform.Owner(info)
	mode := info.Mode()

	e := model.Entry{
		Path:  abs,
		Mode:  uint32(mode.Perm()) | setBits(mode), //nolint:gosec // permission bits fit in uint32
		UID:   uid,
		GID:   gid,
		MTime: 0, // never the source mtime; the tar emitter stamps SOURCE_DATE_EPOCH on its headers
	}

	switch {
	case mode.IsDir():
		e.Kind = model.KindDirectory
	case mode&fs.ModeSymlink != 0:
		e.Kind = model.KindSymlink
		target, err := root.Readlink(relPath)
		if err != nil {
			return model.Entry{}, fmt.Errorf("readlink: %w", err)
		}
		e.LinkTarget = target
	case mode&fs.ModeNamedPipe != 0:
		e.Kind = model.KindFIFO
	case mode&fs.ModeCharDevice != 0:
		e.Kind = model.KindChar
		maj, min := platform.RdevOf(info)
		e.Rdev = model.Rdev{Major: maj, Minor: min}
	case mode&fs.ModeDevice != 0:
		e.Kind = model.KindBlock
		maj, min := platform.RdevOf(info)
		e.Rdev = model.Rdev{Major: maj, Minor: min}
	case mode.IsRegular():
		e.DevIno = model.DevIno{Dev: dev, Ino: ino}
		if first, ok := devInoFirst[e.DevIno]; ok {
			e.Kind = model.KindHardlink
			e.LinkTarget = first
		} else {
			devInoFirst[e.DevIno] = abs
			e.Kind = model.KindRegular
			e.Size = uint64(info.Size()) //nolint:gosec // file sizes are non-negative
		}
	default:
		return model.Entry{}, fmt.Errorf("unsupported file type: %s", abs)
	}

	if mode&fs.ModeSymlink == 0 {
		xattrs, err := platform.Xattrs(rootAbsPath(root, relPath))
		if err != nil {
			return model.Entry{}, err
		}
		e.Xattrs = xattrs
	}

	return e, nil
}

func setBits(mode fs.FileMode) uint32 {
	var bits uint32
	if mode&fs.ModeSetuid != 0 {
		bits |= 04000
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= 02000
	}
	if mode&fs.ModeSticky != 0 {
		bits |= 01000
	}
	return bits
}

// rootAbsPath reconstructs a real filesystem path for xattr syscalls,
// which need an absolute path rather than an *os.Root-relative handle.
func rootAbsPath(root *os.Root, relPath string) string {
	return root.Name() + "/" + relPath
}

// hashRegulars computes sha256 content digests for every first-occurrence
// regular file, using a bounded worker pool built on errgroup, then
// reassembles results into the caller-supplied (canonical) order
// regardless of completion order.
func hashRegulars(ctx context.Context, root *os.Root, entries []model.Entry, workers int) ([]model.Entry, error) {
	type job struct {
		index   int
		relPath string
	}

	var jobs []job
	for i, e := range entries {
		if e.Kind == model.KindRegular {
			jobs = append(jobs, job{index: i, relPath: strings.TrimPrefix(e.Path, "/")})
		}
	}
	if len(jobs) == 0 {
		return entries, nil
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	digests := make([]string, len(jobs))
	jobCh := make(chan int, len(jobs))
	for i := range jobs {
		jobCh <- i
	}
	close(jobCh)

	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for idx := range jobCh {
				if err := egCtx.Err(); err != nil {
					return err
				}
				d, err := hashOne(root, jobs[idx].relPath)
				if err != nil {
					return err
				}
				digests[idx] = d
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i, j := range jobs {
		entries[j.index].ContentDigest = digests[i]
	}
	return entries, nil
}

func hashOne(root *os.Root, relPath string) (string, error) {
	f, err := platform.OpenNoFollow(root, relPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", relPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
