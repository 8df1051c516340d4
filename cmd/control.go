package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/model"
)

var proceedCmd = &cobra.Command{
	Use:   "proceed <batch-id>",
	Short: "Resume a stopped batch at its next incomplete stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.Proceed(ctx, args[0]); err != nil {
			return eris.Wrap(err, "proceed batch")
		}
		return reportStage(cmd, env, args[0])
	},
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <batch-id> <stage>",
	Short: "Re-execute a single pipeline stage",
	Long:  "Re-runs one stage against the batch's stored inputs and writes a fresh stage log attempt. Raw capture is never redone.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.Rerun(ctx, args[0], model.Stage(args[1])); err != nil {
			return eris.Wrap(err, "rerun stage")
		}
		return reportStage(cmd, env, args[0])
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <batch-id>",
	Short: "Halt a batch, keeping partial progress resumable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.Stop(ctx, args[0]); err != nil {
			return eris.Wrap(err, "stop batch")
		}
		return reportStage(cmd, env, args[0])
	},
}

func reportStage(cmd *cobra.Command, env *pipelineEnv, batchID string) error {
	batch, err := env.Store.GetBatch(cmd.Context(), batchID)
	if err != nil {
		return eris.Wrap(err, "load batch")
	}
	zap.L().Info("batch state",
		zap.String("batch_id", batch.ID),
		zap.String("stage", string(batch.Stage)),
		zap.String("last_error", batch.LastError),
	)
	return nil
}

func init() {
	rootCmd.AddCommand(proceedCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(stopCmd)
}
