package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ImportRun struct {
	ID          uuid.UUID
	ProfileID   uuid.UUID
	PartnerID   uuid.UUID
	DryRun      bool
	Status      string
	Inserted    int
	Updated     int
	Skipped     int
	Duplicates  int
	Warnings    int
	Errors      int
	DetailJSON  []byte
	FetchMs     int64
	MapMs       int64
	UpsertMs    int64
	TotalMs     int64
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
	CompletedAt time.Time
}

const importRunColumns = `
	id, profile_id, partner_id, dry_run, status,
	inserted, updated, skipped, duplicates, warnings, errors,
	detail_json, fetch_ms, map_ms, upsert_ms, total_ms,
	created_by, created_at, completed_at
`

func scanImportRun(row interface{ Scan(...any) error }) (ImportRun, error) {
	var r ImportRun
	err := row.Scan(
		&r.ID, &r.ProfileID, &r.PartnerID, &r.DryRun, &r.Status,
		&r.Inserted, &r.Updated, &r.Skipped, &r.Duplicates, &r.Warnings, &r.Errors,
		&r.DetailJSON, &r.FetchMs, &r.MapMs, &r.UpsertMs, &r.TotalMs,
		&r.CreatedBy, &r.CreatedAt, &r.CompletedAt,
	)
	return r, err
}

type CreateImportRunParams struct {
	ID         uuid.UUID
	ProfileID  uuid.UUID
	PartnerID  uuid.UUID
	DryRun     bool
	Status     string
	Inserted   int
	Updated    int
	Skipped    int
	Duplicates int
	Warnings   int
	Errors     int
	DetailJSON []byte
	FetchMs    int64
	MapMs      int64
	UpsertMs   int64
	TotalMs    int64
	CreatedBy  *uuid.UUID
	StartedAt  time.Time
}

// CreateImportRun writes the append-only summary row for a completed run.
func (s *Store) CreateImportRun(ctx context.Context, params CreateImportRunParams) (ImportRun, error) {
	detail := params.DetailJSON
	if len(detail) == 0 {
		detail = []byte(`{}`)
	}
	return scanImportRun(s.pool.QueryRow(ctx, `
		INSERT INTO import_runs (
			id, profile_id, partner_id, dry_run, status,
			inserted, updated, skipped, duplicates, warnings, errors,
			detail_json, fetch_ms, map_ms, upsert_ms, total_ms,
			created_by, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
		RETURNING `+importRunColumns,
		params.ID, params.ProfileID, params.PartnerID, params.DryRun, params.Status,
		params.Inserted, params.Updated, params.Skipped, params.Duplicates, params.Warnings, params.Errors,
		detail, params.FetchMs, params.MapMs, params.UpsertMs, params.TotalMs,
		params.CreatedBy, params.StartedAt,
	))
}

func (s *Store) GetImportRunByID(ctx context.Context, id uuid.UUID) (ImportRun, error) {
	return scanImportRun(s.pool.QueryRow(ctx, `SELECT `+importRunColumns+` FROM import_runs WHERE id = $1`, id))
}

func (s *Store) ListImportRuns(ctx context.Context, limit, offset int) ([]ImportRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+importRunColumns+` FROM import_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		r, err := scanImportRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type ImportRowResult struct {
	ID          uuid.UUID
	ImportRunID uuid.UUID
	RowNumber   int
	Severity    string
	Result      string
	ExternalID  *string
	Field       *string
	Message     string
	RawValue    *string
}

type ImportRowResultInsert struct {
	RowNumber  int
	Severity   string
	Result     string
	ExternalID *string
	Field      *string
	Message    string
	RawValue   *string
}

func (s *Store) InsertImportRowResults(ctx context.Context, runID uuid.UUID, results []ImportRowResultInsert) error {
	if len(results) == 0 {
		return nil
	}

	rowNumbers := make([]int32, len(results))
	severities := make([]string, len(results))
	outcomes := make([]string, len(results))
	externalIDs := make([]*string, len(results))
	fields := make([]*string, len(results))
	messages := make([]string, len(results))
	rawValues := make([]*string, len(results))
	for i, r := range results {
		rowNumbers[i] = int32(r.RowNumber)
		severities[i] = r.Severity
		outcomes[i] = r.Result
		externalIDs[i] = r.ExternalID
		fields[i] = r.Field
		messages[i] = r.Message
		rawValues[i] = r.RawValue
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_row_results (
			import_run_id, row_number, severity, result, external_id, field, message, raw_value
		)
		SELECT $1, t.row_number, t.severity, t.result, t.external_id, t.field, t.message, t.raw_value
		FROM unnest(
			$2::int[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[]
		) AS t(row_number, severity, result, external_id, field, message, raw_value)
	`, runID, rowNumbers, severities, outcomes, externalIDs, fields, messages, rawValues)
	return err
}

func (s *Store) ListImportRowResultsByRun(ctx context.Context, runID uuid.UUID) ([]ImportRowResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, import_run_id, row_number, severity, result, external_id, field, message, raw_value
		FROM import_row_results
		WHERE import_run_id = $1
		ORDER BY row_number, severity
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ImportRowResult
	for rows.Next() {
		var r ImportRowResult
		if err := rows.Scan(&r.ID, &r.ImportRunID, &r.RowNumber, &r.Severity, &r.Result, &r.ExternalID, &r.Field, &r.Message, &r.RawValue); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
