package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Client struct {
	ID        uuid.UUID
	PartnerID uuid.UUID
	Email     string
	Name      string
	Phone     *string
	Address   *string
	Postcode  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const clientColumns = `id, partner_id, email, name, phone, address, postcode, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.PartnerID, &c.Email, &c.Name, &c.Phone, &c.Address, &c.Postcode, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) GetClientByID(ctx context.Context, id uuid.UUID) (Client, error) {
	return scanClient(s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

func (s *Store) ListClients(ctx context.Context, limit, offset int) ([]Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

type CreateClientParams struct {
	PartnerID uuid.UUID
	Email     string
	Name      string
	Phone     *string
	Address   *string
	Postcode  *string
}

func (s *Store) CreateClient(ctx context.Context, params CreateClientParams) (Client, error) {
	return scanClient(s.pool.QueryRow(ctx, `
		INSERT INTO clients (partner_id, email, name, phone, address, postcode)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+clientColumns,
		params.PartnerID, params.Email, params.Name, params.Phone, params.Address, params.Postcode,
	))
}

type ClientUpsert struct {
	Email    string
	Name     string
	Phone    *string
	Address  *string
	Postcode *string
}

type ClientRef struct {
	Email    string
	ClientID uuid.UUID
}

// BulkUpsertClients inserts the batch keyed by (partner_id, email). Existing
// clients are left untouched (first write wins) and the returned refs cover
// every email in the batch, new or pre-existing.
func (s *Store) BulkUpsertClients(ctx context.Context, partnerID uuid.UUID, batch []ClientUpsert) ([]ClientRef, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	emails := make([]string, len(batch))
	names := make([]string, len(batch))
	phones := make([]*string, len(batch))
	addresses := make([]*string, len(batch))
	postcodes := make([]*string, len(batch))
	for i, c := range batch {
		emails[i] = c.Email
		names[i] = c.Name
		phones[i] = c.Phone
		addresses[i] = c.Address
		postcodes[i] = c.Postcode
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO clients (partner_id, email, name, phone, address, postcode)
		SELECT $1, t.email, t.name, t.phone, t.address, t.postcode
		FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[])
			AS t(email, name, phone, address, postcode)
		ON CONFLICT (partner_id, email) DO NOTHING
	`, partnerID, emails, names, phones, addresses, postcodes); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT email, id FROM clients WHERE partner_id = $1 AND email = ANY($2::text[])
	`, partnerID, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]ClientRef, 0, len(batch))
	for rows.Next() {
		var ref ClientRef
		if err := rows.Scan(&ref.Email, &ref.ClientID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
