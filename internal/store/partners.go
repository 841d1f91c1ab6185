package store

import (
	"context"

	"github.com/google/uuid"
)

type Partner struct {
	ID       uuid.UUID
	Name     string
	Slug     string
	IsActive bool
}

func (s *Store) GetPartnerByID(ctx context.Context, id uuid.UUID) (Partner, error) {
	var p Partner
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, is_active FROM partners WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Slug, &p.IsActive)
	return p, err
}

func (s *Store) ListPartners(ctx context.Context) ([]Partner, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, slug, is_active FROM partners ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []Partner
	for rows.Next() {
		var p Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.IsActive); err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

type Engineer struct {
	ID       uuid.UUID
	Name     string
	Email    *string
	IsActive bool
}

func (s *Store) ListEngineers(ctx context.Context) ([]Engineer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, is_active FROM engineers ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var engineers []Engineer
	for rows.Next() {
		var e Engineer
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.IsActive); err != nil {
			return nil, err
		}
		engineers = append(engineers, e)
	}
	return engineers, rows.Err()
}
