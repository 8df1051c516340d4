package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harborline/manifest-cli/internal/model"
)

var dictionaryCmd = &cobra.Command{
	Use:   "dictionary",
	Short: "Inspect and edit the learned header dictionary",
}

// -- dictionary list --

var dictionaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned header synonyms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListEntries(ctx)
		if err != nil {
			return eris.Wrap(err, "dictionary list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dictionary is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HEADER\tFIELD\tCONFIDENCE\tUSED\tLAST USED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%s\n",
				e.SourceHeader, e.CanonicalField, e.Confidence, e.TimesUsed,
				e.LastUsedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

// -- dictionary add --

var dictionaryAddCmd = &cobra.Command{
	Use:   "add <header> <field>",
	Short: "Add or strengthen a header synonym",
	Long:  "Upserts a synonym under the same conflict policy the learner uses: an incumbent with higher confidence survives, and a different target field needs strictly greater confidence to replace it.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		if !catalog.Has(args[1]) {
			return eris.Errorf("unknown canonical field %q", args[1])
		}

		confidence, _ := cmd.Flags().GetFloat64("confidence")
		applied, survivor, err := st.UpsertEntry(ctx, model.DictionaryEntry{
			SourceHeader:   model.NormalizeHeader(args[0]),
			CanonicalField: args[1],
			Confidence:     confidence,
		})
		if err != nil {
			return eris.Wrap(err, "dictionary add")
		}

		if applied {
			zap.L().Info("dictionary entry written",
				zap.String("header", model.NormalizeHeader(args[0])),
				zap.String("field", args[1]),
				zap.Float64("confidence", confidence),
			)
			return nil
		}
		zap.L().Warn("dictionary entry rejected by conflict policy",
			zap.String("header", model.NormalizeHeader(args[0])),
			zap.String("surviving_field", survivor.CanonicalField),
			zap.Float64("surviving_confidence", survivor.Confidence),
		)
		return nil
	},
}

// -- dictionary export --

var dictionaryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the dictionary as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListEntries(ctx)
		if err != nil {
			return eris.Wrap(err, "dictionary export")
		}

		out := make(map[string]map[string]any, len(entries))
		for _, e := range entries {
			out[e.SourceHeader] = map[string]any{
				"field":      e.CanonicalField,
				"confidence": e.Confidence,
			}
		}
		return yaml.NewEncoder(os.Stdout).Encode(out)
	},
}

func init() {
	dictionaryAddCmd.Flags().Float64("confidence", 1.0, "confidence for the new entry")

	dictionaryCmd.AddCommand(dictionaryListCmd)
	dictionaryCmd.AddCommand(dictionaryAddCmd)
	dictionaryCmd.AddCommand(dictionaryExportCmd)
	rootCmd.AddCommand(dictionaryCmd)
}
