package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harborline/manifest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id          TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	stage       TEXT NOT NULL DEFAULT 'archivist',
	headers     TEXT NOT NULL,
	row_count   INTEGER NOT NULL DEFAULT 0,
	proposal    TEXT,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_rows (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	row_index   INTEGER NOT NULL,
	headers     TEXT NOT NULL,
	data        TEXT NOT NULL,
	captured_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dictionary (
	source_header   TEXT PRIMARY KEY,
	canonical_field TEXT NOT NULL,
	confidence      REAL NOT NULL,
	times_used      INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	last_used_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS shipments (
	container_number TEXT PRIMARY KEY,
	fields           TEXT NOT NULL,
	lineage          TEXT NOT NULL,
	batch_id         TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS shipment_events (
	container_number TEXT NOT NULL,
	stage            TEXT NOT NULL,
	occurs_at        DATETIME NOT NULL,
	source_field     TEXT NOT NULL,
	PRIMARY KEY (container_number, stage)
);

CREATE TABLE IF NOT EXISTS row_failures (
	batch_id   TEXT NOT NULL,
	raw_row_id TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	class      TEXT NOT NULL DEFAULT 'permanent',
	failed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS improvements (
	id              TEXT PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	unmapped_header TEXT NOT NULL,
	candidate_field TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL DEFAULT 0,
	samples         TEXT NOT NULL DEFAULT '[]',
	frequency       INTEGER NOT NULL DEFAULT 0,
	action          TEXT NOT NULL,
	created_at      DATETIME NOT NULL
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
	started_at     DATETIME NOT NULL,
	duration_ms    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batches_stage ON batches(stage);
CREATE INDEX IF NOT EXISTS idx_raw_rows_batch ON raw_rows(batch_id);
CREATE INDEX IF NOT EXISTS idx_shipments_batch ON shipments(batch_id);
CREATE INDEX IF NOT EXISTS idx_row_failures_batch ON row_failures(batch_id);
CREATE INDEX IF NOT EXISTS idx_improvements_batch ON improvements(batch_id);
CREATE INDEX IF NOT EXISTS idx_stage_logs_batch ON stage_logs(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Batches ---

func (s *SQLiteStore) CreateBatch(ctx context.Context, sourceName string, headers []string) (*model.ImportBatch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal headers")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, source_name, stage, headers, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sourceName, string(model.StageArchivist), string(headersJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
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

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_name, stage, headers, row_count, proposal, last_error, created_at, updated_at
		 FROM batches WHERE id = ?`, batchID,
	)
	return scanBatch(row)
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.ImportBatch, error) {
	query := `SELECT id, source_name, stage, headers, row_count, proposal, last_error, created_at, updated_at
		FROM batches WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) AdvanceBatch(ctx context.Context, batchID string, from, to model.Stage) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(ErrStageConflict, "transition %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
		string(to), time.Now().UTC(), batchID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance batch %s", batchID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Either the batch is gone or another writer moved it first.
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrStageConflict, "batch %s no longer at %s", batchID, from)
	}
	return nil
}

func (s *SQLiteStore) SetBatchProposal(ctx context.Context, batchID string, proposal *model.MappingProposal) error {
	proposalJSON, err := json.Marshal(proposal)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal proposal")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET proposal = ?, updated_at = ? WHERE id = ?`,
		string(proposalJSON), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set proposal %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

func (s *SQLiteStore) SetBatchError(ctx context.Context, batchID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET last_error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set batch error %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

func (s *SQLiteStore) SetBatchRowCount(ctx context.Context, batchID string, n int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET row_count = ?, updated_at = ? WHERE id = ?`,
		n, time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set batch row count %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

// --- Raw rows ---

func (s *SQLiteStore) AppendRawRows(ctx context.Context, batchID string, rows []model.RawRow) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin raw capture")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_rows (id, batch_id, row_index, headers, data, captured_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare raw insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]string, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		id := uuid.New().String()

		headersJSON, err := json.Marshal(r.Headers)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal headers row %d", r.RowIndex)
		}
		dataJSON, err := json.Marshal(r.Data)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal data row %d", r.RowIndex)
		}
		if _, err := stmt.ExecContext(ctx, id, batchID, r.RowIndex, string(headersJSON), string(dataJSON), now); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert raw row %d", r.RowIndex)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit raw capture")
	}
	return ids, nil
}

func (s *SQLiteStore) GetRawRow(ctx context.Context, rawRowID string) (*model.RawRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, batch_id, row_index, headers, data, captured_at FROM raw_rows WHERE id = ?`, rawRowID,
	)
	return scanRawRow(row)
}

func (s *SQLiteStore) ListRawRows(ctx context.Context, batchID string) ([]model.RawRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, row_index, headers, data, captured_at FROM raw_rows
		 WHERE batch_id = ? ORDER BY row_index`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw rows")
	}
	defer rows.Close()

	var out []model.RawRow
	for rows.Next() {
		r, err := scanRawRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list raw rows iterate")
}

// --- Dictionary ---

func (s *SQLiteStore) LookupEntry(ctx context.Context, normalizedHeader string) (*model.DictionaryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_header, canonical_field, confidence, times_used, created_at, last_used_at
		 FROM dictionary WHERE source_header = ?`, normalizedHeader,
	)
	var e model.DictionaryEntry
	err := row.Scan(&e.SourceHeader, &e.CanonicalField, &e.Confidence, &e.TimesUsed, &e.CreatedAt, &e.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "dictionary entry %s", normalizedHeader)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup entry")
	}
	return &e, nil
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, normalizedHeader string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dictionary SET times_used = times_used + 1, last_used_at = ? WHERE source_header = ?`,
		time.Now().UTC(), normalizedHeader,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record usage %s", normalizedHeader)
	}
	return checkRowsAffected(res, "dictionary entry", normalizedHeader)
}

// UpsertEntry applies the conflict policy in a single guarded UPSERT so
// concurrent learners cannot interleave a read-then-write.
func (s *SQLiteStore) UpsertEntry(ctx context.Context, entry model.DictionaryEntry) (bool, *model.DictionaryEntry, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dictionary (source_header, canonical_field, confidence, times_used, created_at, last_used_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(source_header) DO UPDATE SET
			canonical_field = excluded.canonical_field,
			confidence      = excluded.confidence,
			last_used_at    = excluded.last_used_at
		 WHERE excluded.confidence >= dictionary.confidence
		   AND (dictionary.canonical_field = excluded.canonical_field
				OR excluded.confidence > dictionary.confidence)`,
		entry.SourceHeader, entry.CanonicalField, entry.Confidence, now, now,
	)
	if err != nil {
		return false, nil, eris.Wrapf(err, "sqlite: upsert entry %s", entry.SourceHeader)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, eris.Wrap(err, "sqlite: rows affected")
	}

	surviving, err := s.LookupEntry(ctx, entry.SourceHeader)
	if err != nil {
		return false, nil, err
	}
	return n > 0, surviving, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context) ([]model.DictionaryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_header, canonical_field, confidence, times_used, created_at, last_used_at
		 FROM dictionary ORDER BY source_header`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entries")
	}
	defer rows.Close()

	var out []model.DictionaryEntry
	for rows.Next() {
		var e model.DictionaryEntry
		if err := rows.Scan(&e.SourceHeader, &e.CanonicalField, &e.Confidence, &e.TimesUsed, &e.CreatedAt, &e.LastUsedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entries iterate")
}

// --- Shipments ---

func (s *SQLiteStore) UpsertShipment(ctx context.Context, sh *model.Shipment) error {
	fieldsJSON, err := json.Marshal(sh.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal shipment fields")
	}
	lineageJSON, err := json.Marshal(sh.Lineage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lineage")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shipments (container_number, fields, lineage, batch_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(container_number) DO UPDATE SET
			fields     = excluded.fields,
			lineage    = excluded.lineage,
			batch_id   = excluded.batch_id,
			updated_at = excluded.updated_at`,
		sh.ContainerNumber, string(fieldsJSON), string(lineageJSON), sh.BatchID, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert shipment %s", sh.ContainerNumber)
}

func (s *SQLiteStore) GetShipment(ctx context.Context, containerNumber string) (*model.Shipment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT container_number, fields, lineage, batch_id, created_at, updated_at
		 FROM shipments WHERE container_number = ?`, containerNumber,
	)
	return scanShipment(row)
}

func (s *SQLiteStore) ListShipmentsByBatch(ctx context.Context, batchID string) ([]model.Shipment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container_number, fields, lineage, batch_id, created_at, updated_at
		 FROM shipments WHERE batch_id = ? ORDER BY container_number`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list shipments")
	}
	defer rows.Close()

	var out []model.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list shipments iterate")
}

func (s *SQLiteStore) UpdateShipmentFields(ctx context.Context, containerNumber string, fields map[string]model.RawValue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin field update")
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `SELECT fields FROM shipments WHERE container_number = ?`, containerNumber)
	var fieldsJSON string
	if err := row.Scan(&fieldsJSON); err != nil {
		if err == sql.ErrNoRows {
			return eris.Wrapf(ErrNotFound, "shipment %s", containerNumber)
		}
		return eris.Wrap(err, "sqlite: read shipment fields")
	}

	var current map[string]model.RawValue
	if err := json.Unmarshal([]byte(fieldsJSON), &current); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal shipment fields")
	}
	for k, v := range fields {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal merged fields")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE shipments SET fields = ?, updated_at = ? WHERE container_number = ?`,
		string(merged), time.Now().UTC(), containerNumber,
	); err != nil {
		return eris.Wrap(err, "sqlite: update shipment fields")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit field update")
}

func (s *SQLiteStore) UpsertEvent(ctx context.Context, ev model.ShipmentEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shipment_events (container_number, stage, occurs_at, source_field)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(container_number, stage) DO UPDATE SET
			occurs_at    = excluded.occurs_at,
			source_field = excluded.source_field`,
		ev.ContainerNumber, string(ev.Stage), ev.OccursAt.UTC(), ev.SourceField,
	)
	return eris.Wrapf(err, "sqlite: upsert event %s/%s", ev.ContainerNumber, ev.Stage)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, containerNumber string) ([]model.ShipmentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT container_number, stage, occurs_at, source_field FROM shipment_events
		 WHERE container_number = ? ORDER BY occurs_at`, containerNumber,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.ShipmentEvent
	for rows.Next() {
		var ev model.ShipmentEvent
		var stage string
		if err := rows.Scan(&ev.ContainerNumber, &stage, &ev.OccursAt, &ev.SourceField); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Stage = model.EventStage(stage)
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// --- Row failures ---

func (s *SQLiteStore) RecordRowFailure(ctx context.Context, f model.RowFailure) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO row_failures (batch_id, raw_row_id, row_index, reason, class, failed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.BatchID, f.RawRowID, f.RowIndex, f.Reason, f.Class, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record row failure")
}

func (s *SQLiteStore) ListRowFailures(ctx context.Context, batchID string) ([]model.RowFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, raw_row_id, row_index, reason, class, failed_at FROM row_failures
		 WHERE batch_id = ? ORDER BY row_index`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list row failures")
	}
	defer rows.Close()

	var out []model.RowFailure
	for rows.Next() {
		var f model.RowFailure
		if err := rows.Scan(&f.BatchID, &f.RawRowID, &f.RowIndex, &f.Reason, &f.Class, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list row failures iterate")
}

// --- Improvements ---

func (s *SQLiteStore) RecordImprovements(ctx context.Context, recs []model.ImprovementRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin improvements")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range recs {
		samplesJSON, err := json.Marshal(r.SampleValues)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal samples")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO improvements (id, batch_id, unmapped_header, candidate_field, confidence, samples, frequency, action, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), r.BatchID, r.UnmappedHeader, r.CandidateField, r.Confidence,
			string(samplesJSON), r.Frequency, string(r.Action), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert improvement %s", r.UnmappedHeader)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit improvements")
}

func (s *SQLiteStore) ListImprovements(ctx context.Context, batchID string) ([]model.ImprovementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, unmapped_header, candidate_field, confidence, samples, frequency, action, created_at
		 FROM improvements WHERE batch_id = ? ORDER BY unmapped_header`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list improvements")
	}
	defer rows.Close()

	var out []model.ImprovementRecord
	for rows.Next() {
		var r model.ImprovementRecord
		var samplesJSON, action string
		if err := rows.Scan(&r.BatchID, &r.UnmappedHeader, &r.CandidateField, &r.Confidence, &samplesJSON, &r.Frequency, &action, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan improvement")
		}
		if err := json.Unmarshal([]byte(samplesJSON), &r.SampleValues); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal samples")
		}
		r.Action = model.ImprovementAction(action)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list improvements iterate")
}

// --- Stage logs ---

func (s *SQLiteStore) AppendStageLog(ctx context.Context, entry model.StageLog) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_logs (id, batch_id, stage, status, attempt, input_summary, output_summary, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, entry.BatchID, string(entry.Stage), string(entry.Status), entry.Attempt,
		entry.InputSummary, entry.OutputSummary, entry.Error, entry.StartedAt.UTC(), entry.DurationMS,
	)
	return eris.Wrap(err, "sqlite: append stage log")
}

func (s *SQLiteStore) ListStageLogs(ctx context.Context, batchID string) ([]model.StageLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, stage, status, attempt, input_summary, output_summary, error, started_at, duration_ms
		 FROM stage_logs WHERE batch_id = ? ORDER BY started_at`, batchID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stage logs")
	}
	defer rows.Close()

	var out []model.StageLog
	for rows.Next() {
		var l model.StageLog
		var stage, status string
		if err := rows.Scan(&l.ID, &l.BatchID, &stage, &status, &l.Attempt, &l.InputSummary, &l.OutputSummary, &l.Error, &l.StartedAt, &l.DurationMS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage log")
		}
		l.Stage = model.Stage(stage)
		l.Status = model.StageStatus(status)
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stage logs iterate")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var stage, headersJSON string
	var proposalJSON sql.NullString
	err := row.Scan(&b.ID, &b.SourceName, &stage, &headersJSON, &b.RowCount, &proposalJSON, &b.LastError, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "batch")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan batch")
	}
	b.Stage = model.Stage(stage)
	if err := json.Unmarshal([]byte(headersJSON), &b.Headers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal batch headers")
	}
	if proposalJSON.Valid && proposalJSON.String != "" {
		var p model.MappingProposal
		if err := json.Unmarshal([]byte(proposalJSON.String), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch proposal")
		}
		b.Proposal = &p
	}
	return &b, nil
}

func scanRawRow(row scannable) (*model.RawRow, error) {
	var r model.RawRow
	var headersJSON, dataJSON string
	err := row.Scan(&r.ID, &r.BatchID, &r.RowIndex, &headersJSON, &dataJSON, &r.CapturedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "raw row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan raw row")
	}
	if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal raw headers")
	}
	if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal raw data")
	}
	return &r, nil
}

func scanShipment(row scannable) (*model.Shipment, error) {
	var sh model.Shipment
	var fieldsJSON, lineageJSON string
	err := row.Scan(&sh.ContainerNumber, &fieldsJSON, &lineageJSON, &sh.BatchID, &sh.CreatedAt, &sh.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "shipment")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan shipment")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &sh.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal shipment fields")
	}
	if err := json.Unmarshal([]byte(lineageJSON), &sh.Lineage); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal lineage")
	}
	return &sh, nil
}
