package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID                 uuid.UUID
	PartnerID          uuid.UUID
	ExternalID         string
	ClientID           uuid.UUID
	InstallDate        *time.Time
	EngineerID         *uuid.UUID
	AmountPennies      *int64
	JobType            *string
	Status             string
	DurationHours      *float64
	SuppressScheduling bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const orderColumns = `
	id, partner_id, external_id, client_id, install_date, engineer_id,
	amount_pennies, job_type, status, duration_hours, suppress_scheduling,
	created_at, updated_at
`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.PartnerID, &o.ExternalID, &o.ClientID, &o.InstallDate, &o.EngineerID,
		&o.AmountPennies, &o.JobType, &o.Status, &o.DurationHours, &o.SuppressScheduling,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

type ListOrdersParams struct {
	PartnerID *uuid.UUID
	Status    *string
	Limit     int
	Offset    int
}

func (s *Store) ListOrders(ctx context.Context, params ListOrdersParams) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::uuid IS NULL OR partner_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, params.PartnerID, params.Status, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CreateOrderParams struct {
	PartnerID          uuid.UUID
	ExternalID         string
	ClientID           uuid.UUID
	InstallDate        *time.Time
	EngineerID         *uuid.UUID
	AmountPennies      *int64
	JobType            *string
	Status             string
	DurationHours      *float64
	SuppressScheduling bool
}

func (s *Store) CreateOrder(ctx context.Context, params CreateOrderParams) (Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `
		INSERT INTO orders (
			partner_id, external_id, client_id, install_date, engineer_id,
			amount_pennies, job_type, status, duration_hours, suppress_scheduling
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+orderColumns,
		params.PartnerID, params.ExternalID, params.ClientID, params.InstallDate, params.EngineerID,
		params.AmountPennies, params.JobType, params.Status, params.DurationHours, params.SuppressScheduling,
	))
}

type UpdateOrderParams struct {
	ID                 uuid.UUID
	InstallDate        *time.Time
	EngineerID         *uuid.UUID
	AmountPennies      *int64
	JobType            *string
	Status             *string
	DurationHours      *float64
	SuppressScheduling *bool
}

// UpdateOrder applies a partial update: nil fields keep their stored value.
func (s *Store) UpdateOrder(ctx context.Context, params UpdateOrderParams) (Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `
		UPDATE orders SET
			install_date = COALESCE($2, install_date),
			engineer_id = COALESCE($3, engineer_id),
			amount_pennies = COALESCE($4, amount_pennies),
			job_type = COALESCE($5, job_type),
			status = COALESCE($6, status),
			duration_hours = COALESCE($7, duration_hours),
			suppress_scheduling = COALESCE($8, suppress_scheduling),
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		params.ID, params.InstallDate, params.EngineerID, params.AmountPennies,
		params.JobType, params.Status, params.DurationHours, params.SuppressScheduling,
	))
}

// ListOrderExternalIDs returns which of the given external ids already have an
// order for the partner.
func (s *Store) ListOrderExternalIDs(ctx context.Context, partnerID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	existing := make(map[string]uuid.UUID, len(externalIDs))
	if len(externalIDs) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT external_id, id FROM orders
		WHERE partner_id = $1 AND external_id = ANY($2::text[])
	`, partnerID, externalIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var externalID string
		var id uuid.UUID
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, err
		}
		existing[externalID] = id
	}
	return existing, rows.Err()
}

type OrderInsert struct {
	PartnerID          uuid.UUID
	ExternalID         string
	ClientID           uuid.UUID
	InstallDate        *time.Time
	EngineerID         *uuid.UUID
	AmountPennies      *int64
	JobType            *string
	Status             string
	DurationHours      *float64
	SuppressScheduling bool
}

type OrderInsertResult struct {
	OrderID    uuid.UUID
	ExternalID string
	WasInsert  bool
}

// BulkInsertOrders inserts the batch keyed by (partner_id, external_id).
// Conflicting external ids are skipped, never merged, so re-imports cannot
// clobber manual edits. Results cover only rows actually inserted.
func (s *Store) BulkInsertOrders(ctx context.Context, batch []OrderInsert) ([]OrderInsertResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	partnerIDs := make([]uuid.UUID, len(batch))
	externalIDs := make([]string, len(batch))
	clientIDs := make([]uuid.UUID, len(batch))
	installDates := make([]*time.Time, len(batch))
	engineerIDs := make([]*uuid.UUID, len(batch))
	amounts := make([]*int64, len(batch))
	jobTypes := make([]*string, len(batch))
	statuses := make([]string, len(batch))
	durations := make([]*float64, len(batch))
	suppress := make([]bool, len(batch))
	for i, o := range batch {
		partnerIDs[i] = o.PartnerID
		externalIDs[i] = o.ExternalID
		clientIDs[i] = o.ClientID
		installDates[i] = o.InstallDate
		engineerIDs[i] = o.EngineerID
		amounts[i] = o.AmountPennies
		jobTypes[i] = o.JobType
		statuses[i] = o.Status
		durations[i] = o.DurationHours
		suppress[i] = o.SuppressScheduling
	}

	rows, err := s.pool.Query(ctx, `
		INSERT INTO orders (
			partner_id, external_id, client_id, install_date, engineer_id,
			amount_pennies, job_type, status, duration_hours, suppress_scheduling
		)
		SELECT t.partner_id, t.external_id, t.client_id, t.install_date, t.engineer_id,
			t.amount_pennies, t.job_type, t.status, t.duration_hours, t.suppress_scheduling
		FROM unnest(
			$1::uuid[], $2::text[], $3::uuid[], $4::timestamptz[], $5::uuid[],
			$6::bigint[], $7::text[], $8::text[], $9::float8[], $10::boolean[]
		) AS t(
			partner_id, external_id, client_id, install_date, engineer_id,
			amount_pennies, job_type, status, duration_hours, suppress_scheduling
		)
		ON CONFLICT (partner_id, external_id) DO NOTHING
		RETURNING id, external_id
	`, partnerIDs, externalIDs, clientIDs, installDates, engineerIDs,
		amounts, jobTypes, statuses, durations, suppress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]OrderInsertResult, 0, len(batch))
	for rows.Next() {
		var res OrderInsertResult
		if err := rows.Scan(&res.OrderID, &res.ExternalID); err != nil {
			return nil, err
		}
		res.WasInsert = true
		results = append(results, res)
	}
	return results, rows.Err()
}

type ExportOrderRow struct {
	Order
	ClientEmail  string
	ClientName   string
	EngineerName *string
}

func (s *Store) ExportOrdersRows(ctx context.Context) ([]ExportOrderRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.partner_id, o.external_id, o.client_id, o.install_date, o.engineer_id,
			o.amount_pennies, o.job_type, o.status, o.duration_hours, o.suppress_scheduling,
			o.created_at, o.updated_at,
			c.email, c.name, e.name
		FROM orders o
		JOIN clients c ON c.id = o.client_id
		LEFT JOIN engineers e ON e.id = o.engineer_id
		ORDER BY o.created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExportOrderRow
	for rows.Next() {
		var r ExportOrderRow
		if err := rows.Scan(
			&r.ID, &r.PartnerID, &r.ExternalID, &r.ClientID, &r.InstallDate, &r.EngineerID,
			&r.AmountPennies, &r.JobType, &r.Status, &r.DurationHours, &r.SuppressScheduling,
			&r.CreatedAt, &r.UpdatedAt,
			&r.ClientEmail, &r.ClientName, &r.EngineerName,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
