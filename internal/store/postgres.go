package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harborline/manifest-cli/internal/db"
	"github.com/harborline/manifest-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	stage       TEXT NOT NULL DEFAULT 'archivist',
	headers     JSONB NOT NULL,
	row_count   INTEGER NOT NULL DEFAULT 0,
	proposal    JSONB,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_rows (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	row_index   INTEGER NOT NULL,
	headers     JSONB NOT NULL,
	data        JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dictionary (
	source_header   TEXT PRIMARY KEY,
	canonical_field TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	times_used      INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	last_used_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shipments (
	container_number TEXT PRIMARY KEY,
	fields           JSONB NOT NULL,
	lineage          JSONB NOT NULL,
	batch_id         TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shipment_events (
	container_number TEXT NOT NULL,
	stage            TEXT NOT NULL,
	occurs_at        TIMESTAMPTZ NOT NULL,
	source_field     TEXT NOT NULL,
	PRIMARY KEY (container_number, stage)
);

CREATE TABLE IF NOT EXISTS row_failures (
	batch_id   TEXT NOT NULL,
	raw_row_id TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	class      TEXT NOT NULL DEFAULT 'permanent',
	failed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS improvements (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	unmapped_header TEXT NOT NULL,
	candidate_field TEXT NOT NULL DEFAULT '',
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	samples         JSONB NOT NULL DEFAULT '[]',
	frequency       INTEGER NOT NULL DEFAULT 0,
	action          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_logs (
	id             TEXT PRIMARY KEY,
	batch_id       TEXT NOT NULL,
	stage          TEXT NOT NULL,
	status         TEXT NOT NULL,
	attempt        INTEGER NOT NULL DEFAULT 1,
	input_summary  TEXT NOT NULL DEFAULT '',
	output_summary TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL,
	duration_ms    BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batches_stage ON batches(stage);
CREATE INDEX IF NOT EXISTS idx_raw_rows_batch ON raw_rows(batch_id);
CREATE INDEX IF NOT EXISTS idx_shipments_batch ON shipments(batch_id);
CREATE INDEX IF NOT EXISTS idx_row_failures_batch ON row_failures(batch_id);
CREATE INDEX IF NOT EXISTS idx_improvements_batch ON improvements(batch_id);
CREATE INDEX IF NOT EXISTS idx_stage_logs_batch ON stage_logs(batch_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Batches ---

func (s *PostgresStore) CreateBatch(ctx context.Context, sourceName string, headers []string) (*model.ImportBatch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal headers")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (id, source_name, stage, headers, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, sourceName, string(model.StageArchivist), headersJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
	}

	return &model.ImportBatch{
		ID:         id,
		SourceName: sourceName,
		Stage:      model.StageArchivist,
		Headers:    headers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_name, stage, headers, row_count, proposal, last_error, created_at, updated_at
		 FROM batches WHERE id = $1`, batchID,
	)
	return scanBatchPG(row)
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.ImportBatch, error) {
	query := `SELECT id, source_name, stage, headers, row_count, proposal, last_error, created_at, updated_at
		FROM batches`
	var args []any
	if filter.Stage != "" {
		query += ` WHERE stage = $1`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + strconv.Itoa(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.ImportBatch
	for rows.Next() {
		b, err := scanBatchPG(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) AdvanceBatch(ctx context.Context, batchID string, from, to model.Stage) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(ErrStageConflict, "transition %s -> %s", from, to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET stage = $1, updated_at = $2 WHERE id = $3 AND stage = $4`,
		string(to), time.Now().UTC(), batchID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrStageConflict, "batch %s no longer at %s", batchID, from)
	}
	return nil
}

func (s *PostgresStore) SetBatchProposal(ctx context.Context, batchID string, proposal *model.MappingProposal) error {
	proposalJSON, err := json.Marshal(proposal)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal proposal")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET proposal = $1, updated_at = $2 WHERE id = $3`,
		proposalJSON, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set proposal %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	return nil
}

func (s *PostgresStore) SetBatchError(ctx context.Context, batchID string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET last_error = $1, updated_at = $2 WHERE id = $3`,
		msg, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set batch error %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	return nil
}

func (s *PostgresStore) SetBatchRowCount(ctx context.Context, batchID string, n int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET row_count = $1, updated_at = $2 WHERE id = $3`,
		n, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set batch row count %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	return nil
}

// --- Raw rows ---

// AppendRawRows captures a batch via the COPY protocol; a COPY is atomic,
// so any bad row aborts the whole capture (fail-fast, zero partial batches).
func (s *PostgresStore) AppendRawRows(ctx context.Context, batchID string, rows []model.RawRow) ([]string, error) {
	now := time.Now().UTC()
	ids := make([]string, 0, len(rows))
	copyRows := make([][]any, 0, len(rows))

	for i := range rows {
		r := &rows[i]
		id := uuid.New().String()

		headersJSON, err := json.Marshal(r.Headers)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal headers row %d", r.RowIndex)
		}
		dataJSON, err := json.Marshal(r.Data)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal data row %d", r.RowIndex)
		}
		ids = append(ids, id)
		copyRows = append(copyRows, []any{id, batchID, r.RowIndex, headersJSON, dataJSON, now})
	}

	if _, err := db.CopyFrom(ctx, s.pool, "raw_rows",
		[]string{"id", "batch_id", "row_index", "headers", "data", "captured_at"}, copyRows); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) GetRawRow(ctx context.Context, rawRowID string) (*model.RawRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, batch_id, row_index, headers, data, captured_at FROM raw_rows WHERE id = $1`, rawRowID,
	)
	return scanRawRowPG(row)
}

func (s *PostgresStore) ListRawRows(ctx context.Context, batchID string) ([]model.RawRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, batch_id, row_index, headers, data, captured_at FROM raw_rows
		 WHERE batch_id = $1 ORDER BY row_index`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw rows")
	}
	defer rows.Close()

	var out []model.RawRow
	for rows.Next() {
		r, err := scanRawRowPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list raw rows iterate")
}

// --- Dictionary ---

func (s *PostgresStore) LookupEntry(ctx context.Context, normalizedHeader string) (*model.DictionaryEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source_header, canonical_field, confidence, times_used, created_at, last_used_at
		 FROM dictionary WHERE source_header = $1`, normalizedHeader,
	)
	var e model.DictionaryEntry
	err := row.Scan(&e.SourceHeader, &e.CanonicalField, &e.Confidence, &e.TimesUsed, &e.CreatedAt, &e.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "dictionary entry %s", normalizedHeader)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup entry")
	}
	return &e, nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, normalizedHeader string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dictionary SET times_used = times_used + 1, last_used_at = $1 WHERE source_header = $2`,
		time.Now().UTC(), normalizedHeader,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record usage %s", normalizedHeader)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dictionary entry %s", normalizedHeader)
	}
	return nil
}

func (s *PostgresStore) UpsertEntry(ctx context.Context, entry model.DictionaryEntry) (bool, *model.DictionaryEntry, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dictionary (source_header, canonical_field, confidence, times_used, created_at, last_used_at)
		 VALUES ($1, $2, $3, 0, $4, $5)
		 ON CONFLICT (source_header) DO UPDATE SET
			canonical_field = EXCLUDED.canonical_field,
			confidence      = EXCLUDED.confidence,
			last_used_at    = EXCLUDED.last_used_at
		 WHERE EXCLUDED.confidence >= dictionary.confidence
		   AND (dictionary.canonical_field = EXCLUDED.canonical_field
				OR EXCLUDED.confidence > dictionary.confidence)`,
		entry.SourceHeader, entry.CanonicalField, entry.Confidence, now, now,
	)
	if err != nil {
		return false, nil, eris.Wrapf(err, "postgres: upsert entry %s", entry.SourceHeader)
	}

	surviving, err := s.LookupEntry(ctx, entry.SourceHeader)
	if err != nil {
		return false, nil, err
	}
	return tag.RowsAffected() > 0, surviving, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context) ([]model.DictionaryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_header, canonical_field, confidence, times_used, created_at, last_used_at
		 FROM dictionary ORDER BY source_header`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entries")
	}
	defer rows.Close()

	var out []model.DictionaryEntry
	for rows.Next() {
		var e model.DictionaryEntry
		if err := rows.Scan(&e.SourceHeader, &e.CanonicalField, &e.Confidence, &e.TimesUsed, &e.CreatedAt, &e.LastUsedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entries iterate")
}

// --- Shipments ---

func (s *PostgresStore) UpsertShipment(ctx context.Context, sh *model.Shipment) error {
	fieldsJSON, err := json.Marshal(sh.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal shipment fields")
	}
	lineageJSON, err := json.Marshal(sh.Lineage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lineage")
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO shipments (container_number, fields, lineage, batch_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (container_number) DO UPDATE SET
			fields     = EXCLUDED.fields,
			lineage    = EXCLUDED.lineage,
			batch_id   = EXCLUDED.batch_id,
			updated_at = EXCLUDED.updated_at`,
		sh.ContainerNumber, fieldsJSON, lineageJSON, sh.BatchID, now, now,
	)
	return eris.Wrapf(err, "postgres: upsert shipment %s", sh.ContainerNumber)
}

func (s *PostgresStore) GetShipment(ctx context.Context, containerNumber string) (*model.Shipment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT container_number, fields, lineage, batch_id, created_at, updated_at
		 FROM shipments WHERE container_number = $1`, containerNumber,
	)
	return scanShipmentPG(row)
}

func (s *PostgresStore) ListShipmentsByBatch(ctx context.Context, batchID string) ([]model.Shipment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT container_number, fields, lineage, batch_id, created_at, updated_at
		 FROM shipments WHERE batch_id = $1 ORDER BY container_number`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list shipments")
	}
	defer rows.Close()

	var out []model.Shipment
	for rows.Next() {
		sh, err := scanShipmentPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list shipments iterate")
}

// UpdateShipmentFields merges corrected fields server-side with the jsonb
// concatenation operator, so concurrent correctors cannot clobber each
// other's unrelated fields.
func (s *PostgresStore) UpdateShipmentFields(ctx context.Context, containerNumber string, fields map[string]model.RawValue) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal field patch")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE shipments SET fields = fields || $1::jsonb, updated_at = $2 WHERE container_number = $3`,
		patch, time.Now().UTC(), containerNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update shipment fields %s", containerNumber)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "shipment %s", containerNumber)
	}
	return nil
}

func (s *PostgresStore) UpsertEvent(ctx context.Context, ev model.ShipmentEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO shipment_events (container_number, stage, occurs_at, source_field)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (container_number, stage) DO UPDATE SET
			occurs_at    = EXCLUDED.occurs_at,
			source_field = EXCLUDED.source_field`,
		ev.ContainerNumber, string(ev.Stage), ev.OccursAt.UTC(), ev.SourceField,
	)
	return eris.Wrapf(err, "postgres: upsert event %s/%s", ev.ContainerNumber, ev.Stage)
}

func (s *PostgresStore) ListEvents(ctx context.Context, containerNumber string) ([]model.ShipmentEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT container_number, stage, occurs_at, source_field FROM shipment_events
		 WHERE container_number = $1 ORDER BY occurs_at`, containerNumber,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.ShipmentEvent
	for rows.Next() {
		var ev model.ShipmentEvent
		var stage string
		if err := rows.Scan(&ev.ContainerNumber, &stage, &ev.OccursAt, &ev.SourceField); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Stage = model.EventStage(stage)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

// --- Row failures ---

func (s *PostgresStore) RecordRowFailure(ctx context.Context, f model.RowFailure) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO row_failures (batch_id, raw_row_id, row_index, reason, class, failed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		f.BatchID, f.RawRowID, f.RowIndex, f.Reason, f.Class, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record row failure")
}

func (s *PostgresStore) ListRowFailures(ctx context.Context, batchID string) ([]model.RowFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT batch_id, raw_row_id, row_index, reason, class, failed_at FROM row_failures
		 WHERE batch_id = $1 ORDER BY row_index`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list row failures")
	}
	defer rows.Close()

	var out []model.RowFailure
	for rows.Next() {
		var f model.RowFailure
		if err := rows.Scan(&f.BatchID, &f.RawRowID, &f.RowIndex, &f.Reason, &f.Class, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list row failures iterate")
}

// --- Improvements ---

func (s *PostgresStore) RecordImprovements(ctx context.Context, recs []model.ImprovementRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin improvements")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range recs {
		samplesJSON, err := json.Marshal(r.SampleValues)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal samples")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO improvements (id, batch_id, unmapped_header, candidate_field, confidence, samples, frequency, action, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New().String(), r.BatchID, r.UnmappedHeader, r.CandidateField, r.Confidence,
			samplesJSON, r.Frequency, string(r.Action), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert improvement %s", r.UnmappedHeader)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit improvements")
}

func (s *PostgresStore) ListImprovements(ctx context.Context, batchID string) ([]model.ImprovementRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT batch_id, unmapped_header, candidate_field, confidence, samples, frequency, action, created_at
		 FROM improvements WHERE batch_id = $1 ORDER BY unmapped_header`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list improvements")
	}
	defer rows.Close()

	var out []model.ImprovementRecord
	for rows.Next() {
		var r model.ImprovementRecord
		var samplesJSON []byte
		var action string
		if err := rows.Scan(&r.BatchID, &r.UnmappedHeader, &r.CandidateField, &r.Confidence, &samplesJSON, &r.Frequency, &action, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan improvement")
		}
		if err := json.Unmarshal(samplesJSON, &r.SampleValues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal samples")
		}
		r.Action = model.ImprovementAction(action)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list improvements iterate")
}

// --- Stage logs ---

func (s *PostgresStore) AppendStageLog(ctx context.Context, entry model.StageLog) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_logs (id, batch_id, stage, status, attempt, input_summary, output_summary, error, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, entry.BatchID, string(entry.Stage), string(entry.Status), entry.Attempt,
		entry.InputSummary, entry.OutputSummary, entry.Error, entry.StartedAt.UTC(), entry.DurationMS,
	)
	return eris.Wrap(err, "postgres: append stage log")
}

func (s *PostgresStore) ListStageLogs(ctx context.Context, batchID string) ([]model.StageLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, batch_id, stage, status, attempt, input_summary, output_summary, error, started_at, duration_ms
		 FROM stage_logs WHERE batch_id = $1 ORDER BY started_at`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stage logs")
	}
	defer rows.Close()

	var out []model.StageLog
	for rows.Next() {
		var l model.StageLog
		var stage, status string
		if err := rows.Scan(&l.ID, &l.BatchID, &stage, &status, &l.Attempt, &l.InputSummary, &l.OutputSummary, &l.Error, &l.StartedAt, &l.DurationMS); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage log")
		}
		l.Stage = model.Stage(stage)
		l.Status = model.StageStatus(status)
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list stage logs iterate")
}

// --- helpers ---

func scanBatchPG(row pgx.Row) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var stage string
	var headersJSON []byte
	var proposalJSON []byte
	err := row.Scan(&b.ID, &b.SourceName, &stage, &headersJSON, &b.RowCount, &proposalJSON, &b.LastError, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "batch")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan batch")
	}
	b.Stage = model.Stage(stage)
	if err := json.Unmarshal(headersJSON, &b.Headers); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal batch headers")
	}
	if len(proposalJSON) > 0 {
		var p model.MappingProposal
		if err := json.Unmarshal(proposalJSON, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch proposal")
		}
		b.Proposal = &p
	}
	return &b, nil
}

func scanRawRowPG(row pgx.Row) (*model.RawRow, error) {
	var r model.RawRow
	var headersJSON, dataJSON []byte
	err := row.Scan(&r.ID, &r.BatchID, &r.RowIndex, &headersJSON, &dataJSON, &r.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "raw row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan raw row")
	}
	if err := json.Unmarshal(headersJSON, &r.Headers); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw headers")
	}
	if err := json.Unmarshal(dataJSON, &r.Data); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw data")
	}
	return &r, nil
}

func scanShipmentPG(row pgx.Row) (*model.Shipment, error) {
	var sh model.Shipment
	var fieldsJSON, lineageJSON []byte
	err := row.Scan(&sh.ContainerNumber, &fieldsJSON, &lineageJSON, &sh.BatchID, &sh.CreatedAt, &sh.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "shipment")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan shipment")
	}
	if err := json.Unmarshal(fieldsJSON, &sh.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal shipment fields")
	}
	if err := json.Unmarshal(lineageJSON, &sh.Lineage); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal lineage")
	}
	return &sh, nil
}
