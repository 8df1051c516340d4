package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect import batch history",
	Long:  "Commands for listing batches, viewing a batch with its mapping proposal, and reading per-stage execution logs.",
}

// -- batches list --

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import batches",
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

		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")

		batches, err := st.ListBatches(ctx, store.BatchFilter{
			Stage: model.Stage(stage),
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "batches list")
		}

		if len(batches) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}

		formatBatchList(os.Stdout, batches)
		return nil
	},
}

// -- batches show --

var batchesShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show a batch with its mapping proposal",
	Args:  cobra.ExactArgs(1),
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

		batch, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batches show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	},
}

// -- batches logs --

var batchesLogsCmd = &cobra.Command{
	Use:   "logs <batch-id>",
	Short: "Show per-stage execution logs for a batch",
	Args:  cobra.ExactArgs(1),
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

		logs, err := st.ListStageLogs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batches logs")
		}
		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No stage logs found.")
			return nil
		}

		formatStageLogs(os.Stdout, logs)
		return nil
	},
}

// -- batches failures --

var batchesFailuresCmd = &cobra.Command{
	Use:   "failures <batch-id>",
	Short: "Show rows the persister could not apply",
	Args:  cobra.ExactArgs(1),
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

		failures, err := st.ListRowFailures(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batches failures")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No row failures.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROW\tCLASS\tFAILED AT\tREASON")
		for _, f := range failures {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.RowIndex, f.Class, f.FailedAt.Format(time.RFC3339), f.Reason)
		}
		return w.Flush()
	},
}

func formatBatchList(w io.Writer, batches []model.ImportBatch) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tSTAGE\tROWS\tCONFIDENCE\tCREATED\tERROR")
	for _, b := range batches {
		confidence := "-"
		if b.Proposal != nil {
			confidence = fmt.Sprintf("%.3f", b.Proposal.OverallConfidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			b.ID, b.SourceName, b.Stage, b.RowCount, confidence,
			b.CreatedAt.Format("2006-01-02 15:04"), b.LastError)
	}
	_ = tw.Flush()
}

func formatStageLogs(w io.Writer, logs []model.StageLog) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tATTEMPT\tSTATUS\tDURATION\tOUTPUT\tERROR")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%dms\t%s\t%s\n",
			l.Stage, l.Attempt, l.Status, l.DurationMS, l.OutputSummary, l.Error)
	}
	_ = tw.Flush()
}

func init() {
	batchesListCmd.Flags().String("stage", "", "filter by pipeline stage")
	batchesListCmd.Flags().Int("limit", 50, "max batches to list")

	batchesCmd.AddCommand(batchesListCmd)
	batchesCmd.AddCommand(batchesShowCmd)
	batchesCmd.AddCommand(batchesLogsCmd)
	batchesCmd.AddCommand(batchesFailuresCmd)
	rootCmd.AddCommand(batchesCmd)
}
