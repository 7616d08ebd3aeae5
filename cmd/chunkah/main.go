// Command chunkah splits a container rootfs into a content-addressed,
// component-partitioned OCI image.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunkah/chunkah/internal/engine"
	"github.com/chunkah/chunkah/internal/layer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chunkah:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chunkah",
		Short:         "split a rootfs into a component-partitioned OCI image",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	var (
		rootfs        string
		layers        int
		pruneTmp      bool
		prune         []string
		verbose       bool
		gzipLayers    bool
		hashWorkers   int
		bucketWorkers int
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "build an OCI image from a rootfs, partitioned across N layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootfs == "" {
				rootfs = os.Getenv("CHUNKAH_ROOTFS")
			}
			if rootfs == "" {
				rootfs = "/chunkah"
			}

			configStr := os.Getenv("CHUNKAH_CONFIG_STR")
			epoch, err := parseEpoch(os.Getenv("SOURCE_DATE_EPOCH"))
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: levelFor(verbose),
			}))

			comp := layer.CompressionZstd
			if gzipLayers {
				comp = layer.CompressionGzip
			}

			opts := engine.New(os.Stdout,
				engine.WithRootDir(rootfs),
				engine.WithConfigStr(configStr),
				engine.WithLayerCount(layers),
				engine.WithPruneTmp(pruneTmp),
				engine.WithPrune(prune),
				engine.WithEpoch(epoch),
				engine.WithCompression(comp),
				engine.WithLogger(logger),
				engine.WithHashWorkers(hashWorkers),
				engine.WithBucketWorkers(bucketWorkers),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return engine.Build(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&rootfs, "rootfs", "", "path to the rootfs directory (default $CHUNKAH_ROOTFS, else /chunkah)")
	cmd.Flags().IntVar(&layers, "layers", 64, "maximum number of output layers")
	cmd.Flags().BoolVar(&pruneTmp, "prune-tmp", false, "empty /run, /tmp, /var/tmp before walking")
	cmd.Flags().StringArrayVar(&prune, "prune", nil, "additional path to exclude entirely (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	cmd.Flags().BoolVar(&gzipLayers, "gzip", false, "compress layers with gzip instead of zstd")
	cmd.Flags().IntVar(&hashWorkers, "hash-workers", 0, "content-hashing worker pool size (0 = one per CPU)")
	cmd.Flags().IntVar(&bucketWorkers, "bucket-workers", 0, "layer tar+compress worker pool size (0 = one per CPU)")

	return cmd
}

func parseEpoch(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	epoch, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SOURCE_DATE_EPOCH %q: %w", s, err)
	}
	return epoch, nil
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}
