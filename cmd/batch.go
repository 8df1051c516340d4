package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/pipeline"
	"github.com/harborline/manifest-cli/internal/store"
)

var (
	batchSheetName  string
	batchDelimiter  string
	batchConcurrent int
)

var batchCmd = &cobra.Command{
	Use:   "batch <source>...",
	Short: "Ingest multiple manifests concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrent
		if concurrency <= 0 {
			concurrency = cfg.Ingest.MaxConcurrentBatches
		}

		opts := fetchOptions(batchSheetName, 0, batchDelimiter)
		return processSources(ctx, args, concurrency, opts, env.Store, env.Orchestrator)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchSheetName, "sheet", "", "xlsx sheet name (default first sheet)")
	batchCmd.Flags().StringVar(&batchDelimiter, "delimiter", "", "csv delimiter (default comma)")
	batchCmd.Flags().IntVar(&batchConcurrent, "concurrency", 0, "max concurrent batches (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// processSources runs one pipeline per source with bounded concurrency. A
// source that fails or parks at the review gate never blocks the others.
func processSources(ctx context.Context, sources []string, concurrency int, opts fetcher.Options, st store.Store, orch *pipeline.Orchestrator) error {
	zap.L().Info("processing manifests",
		zap.Int("sources", len(sources)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, parked, failed atomic.Int64

	for _, source := range sources {
		g.Go(func() error {
			log := zap.L().With(zap.String("source", source))

			m, err := fetcher.Read(gctx, source, opts)
			if err != nil {
				failed.Add(1)
				log.Error("manifest read failed", zap.Error(err))
				return nil
			}

			batch, err := orch.Start(gctx, m)
			if err != nil {
				failed.Add(1)
				log.Error("batch start failed", zap.Error(err))
				return nil
			}
			if err := orch.Run(gctx, batch.ID); err != nil {
				failed.Add(1)
				log.Error("pipeline failed", zap.String("batch_id", batch.ID), zap.Error(err))
				return nil
			}

			b, err := st.GetBatch(gctx, batch.ID)
			if err != nil {
				failed.Add(1)
				log.Error("batch reload failed", zap.Error(err))
				return nil
			}
			if b.NeedsConfirmation() {
				parked.Add(1)
				log.Warn("batch awaits confirmation", zap.String("batch_id", b.ID))
				return nil
			}

			succeeded.Add(1)
			log.Info("batch finished", zap.String("batch_id", b.ID), zap.String("stage", string(b.Stage)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch ingest")
	}

	zap.L().Info("batch ingest complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("parked", parked.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
