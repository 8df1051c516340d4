package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/pipeline"
)

var auditApply bool

var auditCmd = &cobra.Command{
	Use:   "audit <batch-id>",
	Short: "Audit a batch's persisted shipments against its raw rows",
	Long:  "Recomputes the field-by-field comparison between stored shipments and the raw rows they came from, using the mapping the import actually applied. With --apply, AUTO_CORRECT findings are written back and the batch is re-audited.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Store.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load batch")
		}
		if batch.Proposal == nil {
			return eris.Errorf("batch %s has no mapping proposal to audit against", batch.ID)
		}

		auditor := pipeline.NewAuditor(env.Store, env.Catalog, cfg.Audit)
		result, err := auditor.Audit(ctx, batch, batch.Proposal)
		if err != nil {
			return eris.Wrap(err, "audit batch")
		}

		if auditApply && result.Recommendation == model.RecommendAutoCorrect {
			applied, err := auditor.Apply(ctx, result)
			if err != nil {
				return eris.Wrap(err, "apply corrections")
			}
			zap.L().Info("corrections applied", zap.Int("count", applied))

			result, err = auditor.Audit(ctx, batch, batch.Proposal)
			if err != nil {
				return eris.Wrap(err, "re-audit batch")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditApply, "apply", false, "apply AUTO_CORRECT findings and re-audit")
	rootCmd.AddCommand(auditCmd)
}
