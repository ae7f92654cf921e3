// Package main is the sketchtrain CLI: `sketchtrain train_file_1 ...
// train_file_E test_file`, one epoch per training file, validation against
// the shared test file after each epoch with predictions written to
// `r<epoch>.pred`, per spec §6's external-interfaces section.
//
// Cobra's command shape follows the teacher's pack-mate
// distribution-distribution/registry/root.go: a RootCmd with
// Flags().XxxVar and a RunE closure rather than subcommands, since this
// binary has exactly one mode of operation.
//
// © 2025 sketchtrain authors. MIT License.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Voskan/sketchtrain/internal/hhstore"
	"github.com/Voskan/sketchtrain/internal/pipeline"
	"github.com/Voskan/sketchtrain/internal/telemetry"
	"github.com/Voskan/sketchtrain/internal/tokenizer"
)

var opts struct {
	k          int
	d          int
	n          int
	lr         float32
	topk       int
	threads    int
	queue      int
	logistic   bool
	coarse     bool
	sketchIn   string
	sketchOut  string
	topkIn     string
	topkOut    string
	hhstoreDir string
}

func init() {
	RootCmd.Flags().IntVar(&opts.k, "k", 193, "number of classes (ignored for --logistic, always 1)")
	RootCmd.Flags().IntVar(&opts.d, "d", (1<<24)-1, "count-sketch column count")
	RootCmd.Flags().IntVar(&opts.n, "n", 3, "count-sketch row count (median-of-N)")
	RootCmd.Flags().Float32Var(&opts.lr, "lr", 1e-2, "learning rate")
	RootCmd.Flags().IntVar(&opts.topk, "topk", (1<<20)-1, "top-k heap capacity")
	RootCmd.Flags().IntVar(&opts.threads, "threads", 16, "worker pool size")
	RootCmd.Flags().IntVar(&opts.queue, "queue", 10000, "producer/consumer hand-off queue depth")
	RootCmd.Flags().BoolVar(&opts.logistic, "logistic", false, "train the binary logistic variant instead of multiclass softmax")
	RootCmd.Flags().BoolVar(&opts.coarse, "coarse", false, "use the per-worker (coarse) top-k placement instead of the default per-class (fine) placement")
	RootCmd.Flags().StringVar(&opts.sketchIn, "sketch-in", "", "load the count-sketch from this path before training")
	RootCmd.Flags().StringVar(&opts.sketchOut, "sketch-out", "", "save the count-sketch to this path after the last epoch")
	RootCmd.Flags().StringVar(&opts.topkIn, "topk-in", "", "load the top-k heap(s) from this path before training")
	RootCmd.Flags().StringVar(&opts.topkOut, "topk-out", "", "save the top-k heap(s) to this path after the last epoch")
	RootCmd.Flags().StringVar(&opts.hhstoreDir, "hhstore", "", "mirror evicted heavy-hitters into a Badger database at this directory (optional)")
}

// RootCmd is the main command for the `sketchtrain` binary.
var RootCmd = &cobra.Command{
	Use:   "sketchtrain train_file_1 [train_file_2 ...] test_file",
	Short: "streaming count-sketch trainer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args)
	},
}

// variant bundles the three task-specific operations main needs regardless
// of which Variant implementation was selected by --logistic/--coarse.
type variant interface {
	pipeline.Variant
	SaveState(sketchPath, topkPath string) error
	LoadState(sketchPath, topkPath string) error
}

func run(args []string) error {
	trainFiles := args[:len(args)-1]
	testFile := args[len(args)-1]

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("sketchtrain: logger: %w", err)
	}
	defer logger.Sync()

	var hhs *hhstore.Store
	if opts.hhstoreDir != "" {
		hhs, err = hhstore.Open(opts.hhstoreDir, hhstore.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("sketchtrain: hhstore: %w", err)
		}
		defer hhs.Close()
	}

	metrics := telemetry.New(nil)

	v, err := buildVariant(hhs, metrics)
	if err != nil {
		return err
	}

	eng := pipeline.New(v.(pipeline.Variant), nil,
		pipeline.WithThreads(opts.threads),
		pipeline.WithQueueDepth(opts.queue),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)

	// Loaded after pipeline.New so the coarse variant's per-worker heaps exist.
	if opts.sketchIn != "" || opts.topkIn != "" {
		if err := v.LoadState(opts.sketchIn, opts.topkIn); err != nil {
			return fmt.Errorf("sketchtrain: load: %w", err)
		}
	}

	ctx := context.Background()
	for epoch, trainFile := range trainFiles {
		logger.Sugar().Infof("epoch:\t%d", epoch+1)

		if err := runFile(ctx, eng, trainFile, true); err != nil {
			return fmt.Errorf("sketchtrain: epoch %d train: %w", epoch+1, err)
		}

		logger.Sugar().Infof("validation:\t%d", epoch+1)
		predPath := fmt.Sprintf("r%d.pred", epoch+1)
		predFile, err := os.Create(predPath)
		if err != nil {
			return fmt.Errorf("sketchtrain: create %s: %w", predPath, err)
		}
		eng.SetPredOut(predFile)

		evalErr := runFile(ctx, eng, testFile, false)
		predFile.Close()
		if evalErr != nil {
			return fmt.Errorf("sketchtrain: epoch %d eval: %w", epoch+1, evalErr)
		}
	}

	if opts.sketchOut != "" || opts.topkOut != "" {
		if err := v.SaveState(opts.sketchOut, opts.topkOut); err != nil {
			return fmt.Errorf("sketchtrain: save: %w", err)
		}
	}

	return nil
}

func runFile(ctx context.Context, eng *pipeline.Engine, path string, train bool) error {
	src, err := tokenizer.Open(path)
	if err != nil {
		return err
	}
	return eng.RunFile(ctx, src, train)
}

func buildVariant(hhs *hhstore.Store, metrics telemetry.Sink) (variant, error) {
	switch {
	case opts.logistic:
		return pipeline.NewBinary(pipeline.BinaryConfig{
			D: opts.d, N: opts.n, TopK: opts.topk, LR: opts.lr, HHStore: hhs, Metrics: metrics,
		}), nil
	case opts.coarse:
		return pipeline.NewMulticlassCoarse(pipeline.MulticlassCoarseConfig{
			K: opts.k, D: opts.d, N: opts.n, TopK: opts.topk, LR: opts.lr, HHStore: hhs, Metrics: metrics,
		}), nil
	default:
		return pipeline.NewMulticlassFine(pipeline.MulticlassFineConfig{
			K: opts.k, D: opts.d, N: opts.n, TopK: opts.topk, LR: opts.lr, HHStore: hhs, Metrics: metrics,
		}), nil
	}
}
