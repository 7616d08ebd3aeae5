package engine

import (
	"io"
	"log/slog"

	"github.com/chunkah/chunkah/internal/layer"
	"github.com/chunkah/chunkah/internal/model"
)

// Options configures one Build invocation. It is assembled with
// functional options: defaults applied by New, then overridden in
// order by the With* calls passed to it.
type Options struct {
	RootDir       string
	ConfigStr     string
	LayerCount    int
	PruneTmp      bool
	Prune         []string
	Epoch         int64
	Compression   layer.Compression
	StagingDir    string
	HashWorkers   int
	BucketWorkers int
	Logger        *slog.Logger
	Output        io.Writer
	Progress      model.ProgressFunc
}

// Option mutates an Options value being built up by New.
type Option func(*Options)

// New returns an Options with its defaults applied, then overridden by
// opts in order. HashWorkers and BucketWorkers default to 0, meaning
// "one worker per CPU" — walk.Walk and emitBuckets both resolve 0 via
// runtime.GOMAXPROCS(0) themselves.
func New(output io.Writer, opts ...Option) Options {
	o := Options{
		LayerCount:  64,
		Epoch:       0,
		Compression: layer.CompressionZstd,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Output:      output,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithRootDir(dir string) Option { return func(o *Options) { o.RootDir = dir } }

func WithConfigStr(s string) Option { return func(o *Options) { o.ConfigStr = s } }

func WithLayerCount(n int) Option { return func(o *Options) { o.LayerCount = n } }

func WithPruneTmp(v bool) Option { return func(o *Options) { o.PruneTmp = v } }

func WithPrune(paths []string) Option { return func(o *Options) { o.Prune = paths } }

func WithEpoch(epoch int64) Option { return func(o *Options) { o.Epoch = epoch } }

func WithCompression(c layer.Compression) Option { return func(o *Options) { o.Compression = c } }

func WithStagingDir(dir string) Option { return func(o *Options) { o.StagingDir = dir } }

// WithHashWorkers bounds the walker's content-hashing pool. Zero (the
// default) uses runtime.GOMAXPROCS(0).
func WithHashWorkers(n int) Option { return func(o *Options) { o.HashWorkers = n } }

// WithBucketWorkers bounds the per-bucket tar+compress fan-out. Zero
// (the default) uses runtime.GOMAXPROCS(0).
func WithBucketWorkers(n int) Option { return func(o *Options) { o.BucketWorkers = n } }

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func WithProgress(p model.ProgressFunc) Option { return func(o *Options) { o.Progress = p } }
