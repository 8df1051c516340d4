package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harborline/manifest-cli/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrStageConflict is returned when a batch stage transition loses a
// compare-and-swap (the batch was advanced concurrently or the transition
// is not in the state machine's table).
var ErrStageConflict = eris.New("store: stage conflict")

// BatchFilter specifies criteria for listing import batches.
type BatchFilter struct {
	Stage  model.Stage `json:"stage,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

// Store defines the persistence contract for the ingestion pipeline.
// Raw rows are append-only; the dictionary upsert is atomic per normalized
// header; shipment upserts are keyed by container number.
type Store interface {
	// Import batches
	CreateBatch(ctx context.Context, sourceName string, headers []string) (*model.ImportBatch, error)
	GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.ImportBatch, error)
	// AdvanceBatch moves a batch between stages with a compare-and-swap on
	// the current stage. Illegal transitions and lost races return
	// ErrStageConflict.
	AdvanceBatch(ctx context.Context, batchID string, from, to model.Stage) error
	SetBatchProposal(ctx context.Context, batchID string, proposal *model.MappingProposal) error
	SetBatchError(ctx context.Context, batchID string, msg string) error
	SetBatchRowCount(ctx context.Context, batchID string, n int) error

	// Raw capture (append-only, single transaction, fail-fast)
	AppendRawRows(ctx context.Context, batchID string, rows []model.RawRow) ([]string, error)
	GetRawRow(ctx context.Context, rawRowID string) (*model.RawRow, error)
	ListRawRows(ctx context.Context, batchID string) ([]model.RawRow, error)

	// Dictionary
	// LookupEntry returns ErrNotFound for headers the dictionary has never
	// seen.
	LookupEntry(ctx context.Context, normalizedHeader string) (*model.DictionaryEntry, error)
	RecordUsage(ctx context.Context, normalizedHeader string) error
	// UpsertEntry applies the confidence conflict policy atomically: the new
	// entry wins only if its confidence is not lower and it either refreshes
	// the same canonical field or strictly exceeds the incumbent's
	// confidence. Returns whether the write applied and the surviving entry.
	UpsertEntry(ctx context.Context, entry model.DictionaryEntry) (bool, *model.DictionaryEntry, error)
	ListEntries(ctx context.Context) ([]model.DictionaryEntry, error)

	// Shipments
	UpsertShipment(ctx context.Context, s *model.Shipment) error
	GetShipment(ctx context.Context, containerNumber string) (*model.Shipment, error)
	ListShipmentsByBatch(ctx context.Context, batchID string) ([]model.Shipment, error)
	// UpdateShipmentFields overwrites individual canonical fields, used by
	// audit corrections.
	UpdateShipmentFields(ctx context.Context, containerNumber string, fields map[string]model.RawValue) error
	UpsertEvent(ctx context.Context, ev model.ShipmentEvent) error
	ListEvents(ctx context.Context, containerNumber string) ([]model.ShipmentEvent, error)

	// Row failures (isolated persistence errors)
	RecordRowFailure(ctx context.Context, f model.RowFailure) error
	ListRowFailures(ctx context.Context, batchID string) ([]model.RowFailure, error)

	// Learner output
	RecordImprovements(ctx context.Context, recs []model.ImprovementRecord) error
	ListImprovements(ctx context.Context, batchID string) ([]model.ImprovementRecord, error)

	// Stage logs (one entry per stage attempt, including reruns)
	AppendStageLog(ctx context.Context, entry model.StageLog) error
	ListStageLogs(ctx context.Context, batchID string) ([]model.StageLog, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
