package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ImportProfile struct {
	ID               uuid.UUID
	PartnerID        uuid.UUID
	Name             string
	IsActive         bool
	ColumnMapping    map[string]string
	EngineerMapping  map[string]string
	StatusMapping    map[string]string
	DefaultDurations map[string]float64
	SpreadsheetID    *string
	SheetName        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const profileColumns = `
	id, partner_id, name, is_active,
	column_mapping, engineer_mapping, status_mapping, default_durations,
	spreadsheet_id, sheet_name, created_at, updated_at
`

func scanProfile(row interface{ Scan(...any) error }) (ImportProfile, error) {
	var p ImportProfile
	var columnMapping, engineerMapping, statusMapping, defaultDurations []byte
	if err := row.Scan(
		&p.ID, &p.PartnerID, &p.Name, &p.IsActive,
		&columnMapping, &engineerMapping, &statusMapping, &defaultDurations,
		&p.SpreadsheetID, &p.SheetName, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return ImportProfile{}, err
	}
	if err := unmarshalJSONB(columnMapping, &p.ColumnMapping); err != nil {
		return ImportProfile{}, fmt.Errorf("decode column_mapping: %w", err)
	}
	if err := unmarshalJSONB(engineerMapping, &p.EngineerMapping); err != nil {
		return ImportProfile{}, fmt.Errorf("decode engineer_mapping: %w", err)
	}
	if err := unmarshalJSONB(statusMapping, &p.StatusMapping); err != nil {
		return ImportProfile{}, fmt.Errorf("decode status_mapping: %w", err)
	}
	if err := unmarshalJSONB(defaultDurations, &p.DefaultDurations); err != nil {
		return ImportProfile{}, fmt.Errorf("decode default_durations: %w", err)
	}
	return p, nil
}

func unmarshalJSONB(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func marshalJSONB(value any) []byte {
	if value == nil {
		return []byte(`{}`)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return []byte(`{}`)
	}
	return encoded
}

func (s *Store) GetImportProfileByID(ctx context.Context, id uuid.UUID) (ImportProfile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM import_profiles WHERE id = $1`, id)
	return scanProfile(row)
}

func (s *Store) ListImportProfiles(ctx context.Context) ([]ImportProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+profileColumns+` FROM import_profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []ImportProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

type CreateImportProfileParams struct {
	PartnerID        uuid.UUID
	Name             string
	IsActive         bool
	ColumnMapping    map[string]string
	EngineerMapping  map[string]string
	StatusMapping    map[string]string
	DefaultDurations map[string]float64
	SpreadsheetID    *string
	SheetName        *string
}

func (s *Store) CreateImportProfile(ctx context.Context, params CreateImportProfileParams) (ImportProfile, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO import_profiles (
			partner_id, name, is_active,
			column_mapping, engineer_mapping, status_mapping, default_durations,
			spreadsheet_id, sheet_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+profileColumns,
		params.PartnerID, params.Name, params.IsActive,
		marshalJSONB(params.ColumnMapping), marshalJSONB(params.EngineerMapping),
		marshalJSONB(params.StatusMapping), marshalJSONB(params.DefaultDurations),
		params.SpreadsheetID, params.SheetName,
	)
	return scanProfile(row)
}

type UpdateImportProfileParams struct {
	ID               uuid.UUID
	Name             *string
	IsActive         *bool
	ColumnMapping    map[string]string
	EngineerMapping  map[string]string
	StatusMapping    map[string]string
	DefaultDurations map[string]float64
	SpreadsheetID    *string
	SheetName        *string
}

// UpdateImportProfile applies a partial update: nil fields keep their stored value.
func (s *Store) UpdateImportProfile(ctx context.Context, params UpdateImportProfileParams) (ImportProfile, error) {
	var columnMapping, engineerMapping, statusMapping, defaultDurations []byte
	if params.ColumnMapping != nil {
		columnMapping = marshalJSONB(params.ColumnMapping)
	}
	if params.EngineerMapping != nil {
		engineerMapping = marshalJSONB(params.EngineerMapping)
	}
	if params.StatusMapping != nil {
		statusMapping = marshalJSONB(params.StatusMapping)
	}
	if params.DefaultDurations != nil {
		defaultDurations = marshalJSONB(params.DefaultDurations)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE import_profiles SET
			name = COALESCE($2, name),
			is_active = COALESCE($3, is_active),
			column_mapping = COALESCE($4, column_mapping),
			engineer_mapping = COALESCE($5, engineer_mapping),
			status_mapping = COALESCE($6, status_mapping),
			default_durations = COALESCE($7, default_durations),
			spreadsheet_id = COALESCE($8, spreadsheet_id),
			sheet_name = COALESCE($9, sheet_name),
			updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns,
		params.ID, params.Name, params.IsActive,
		columnMapping, engineerMapping, statusMapping, defaultDurations,
		params.SpreadsheetID, params.SheetName,
	)
	return scanProfile(row)
}
