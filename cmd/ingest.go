package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/fetcher"
)

var (
	ingestSheetName  string
	ingestSheetIndex int
	ingestDelimiter  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>",
	Short: "Ingest a single manifest file or FTP URL",
	Long:  "Parses the manifest, captures raw rows, and drives the batch through mapping, import, audit, and dictionary learning. Batches whose mapping confidence falls below the approval threshold park at the review gate; use confirm to release them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		m, err := fetcher.Read(ctx, args[0], fetchOptions(ingestSheetName, ingestSheetIndex, ingestDelimiter))
		if err != nil {
			return eris.Wrap(err, "read manifest")
		}

		batch, err := env.Orchestrator.Start(ctx, m)
		if err != nil {
			return eris.Wrap(err, "start batch")
		}
		if err := env.Orchestrator.Run(ctx, batch.ID); err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		batch, err = env.Store.GetBatch(ctx, batch.ID)
		if err != nil {
			return eris.Wrap(err, "load batch")
		}

		zap.L().Info("ingest finished",
			zap.String("batch_id", batch.ID),
			zap.String("stage", string(batch.Stage)),
			zap.Int("rows", batch.RowCount),
		)
		if batch.NeedsConfirmation() {
			zap.L().Warn("mapping confidence below approval threshold, batch awaits confirmation",
				zap.String("batch_id", batch.ID),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSheetName, "sheet", "", "xlsx sheet name (default first sheet)")
	ingestCmd.Flags().IntVar(&ingestSheetIndex, "sheet-index", 0, "xlsx sheet index")
	ingestCmd.Flags().StringVar(&ingestDelimiter, "delimiter", "", "csv delimiter (default comma)")
	rootCmd.AddCommand(ingestCmd)
}
