package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harborline/manifest-cli/internal/model"
)

var confirmMappingPath string

var confirmCmd = &cobra.Command{
	Use:   "confirm <batch-id>",
	Short: "Approve a batch parked at the mapping review gate",
	Long:  "Releases a batch awaiting confirmation to the import stage, optionally replacing the proposed mapping with an operator-edited one, then runs the pipeline to completion.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var edited *model.MappingProposal
		if confirmMappingPath != "" {
			edited, err = loadOperatorMapping(confirmMappingPath)
			if err != nil {
				return err
			}
		}

		if err := env.Orchestrator.Confirm(ctx, args[0], edited); err != nil {
			return eris.Wrap(err, "confirm batch")
		}
		if err := env.Orchestrator.Run(ctx, args[0]); err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		batch, err := env.Store.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load batch")
		}
		zap.L().Info("batch confirmed",
			zap.String("batch_id", batch.ID),
			zap.String("stage", string(batch.Stage)),
		)
		return nil
	},
}

// operatorMapping is the YAML shape of an edited mapping: canonical field to
// source header.
type operatorMapping struct {
	Mappings map[string]string `yaml:"mappings"`
}

// loadOperatorMapping reads an operator-edited mapping file. Operator
// mappings carry full confidence; validation against the catalog and the
// batch headers happens in Confirm.
func loadOperatorMapping(path string) (*model.MappingProposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read mapping file %s", path)
	}

	var om operatorMapping
	if err := yaml.Unmarshal(data, &om); err != nil {
		return nil, eris.Wrapf(err, "parse mapping file %s", path)
	}
	if len(om.Mappings) == 0 {
		return nil, eris.Errorf("mapping file %s has no mappings", path)
	}

	p := &model.MappingProposal{
		FieldMappings:        make(map[string]model.FieldMapping, len(om.Mappings)),
		UnmappedSourceFields: make(map[string]float64),
		OverallConfidence:    1.0,
	}
	for field, header := range om.Mappings {
		p.FieldMappings[field] = model.FieldMapping{
			SourceHeader: header,
			Confidence:   1.0,
			Source:       model.MappingSourceOperator,
		}
	}
	return p, nil
}

func init() {
	confirmCmd.Flags().StringVar(&confirmMappingPath, "mapping", "", "YAML file with an operator-edited mapping")
	rootCmd.AddCommand(confirmCmd)
}
