package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

// Capture writes every manifest row into the raw store, resolving each cell
// to its typed value once. The raw rows are the permanent ground truth for
// auditing; a capture failure aborts the batch before any mapping runs.
func Capture(ctx context.Context, st store.Store, batchID string, m *fetcher.Manifest) ([]string, error) {
	now := time.Now().UTC()
	rows := make([]model.RawRow, len(m.Rows))
	for i, cells := range m.Rows {
		data := make(map[string]model.RawValue, len(m.Headers))
		for j, header := range m.Headers {
			if j < len(cells) {
				data[header] = model.ResolveCell(cells[j])
			} else {
				data[header] = model.NullValue()
			}
		}
		rows[i] = model.RawRow{
			ID:         uuid.NewString(),
			BatchID:    batchID,
			RowIndex:   i,
			Headers:    m.Headers,
			Data:       data,
			CapturedAt: now,
		}
	}

	ids, err := st.AppendRawRows(ctx, batchID, rows)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: capture rows")
	}
	if err := st.SetBatchRowCount(ctx, batchID, len(ids)); err != nil {
		return nil, eris.Wrap(err, "pipeline: set row count")
	}

	zap.L().Info("captured raw rows",
		zap.String("batch_id", batchID),
		zap.Int("rows", len(ids)),
		zap.Int("headers", len(m.Headers)),
	)
	return ids, nil
}
