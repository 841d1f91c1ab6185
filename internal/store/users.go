package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
}

func (s *Store) ListUsersByEmail(ctx context.Context, email string) ([]User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, full_name, password_hash, is_active
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type CreateSessionParams struct {
	UserID    uuid.UUID
	TokenHash string
	CsrfToken string
	ExpiresAt time.Time
}

type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CsrfToken string
	ExpiresAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, params CreateSessionParams) (Session, error) {
	var session Session
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, token_hash, csrf_token, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, csrf_token, expires_at
	`, params.UserID, params.TokenHash, params.CsrfToken, params.ExpiresAt).
		Scan(&session.ID, &session.UserID, &session.CsrfToken, &session.ExpiresAt)
	return session, err
}

type SessionPrincipal struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Email     string
	FullName  string
	CsrfToken string
	ExpiresAt time.Time
}

func (s *Store) GetSessionPrincipalByTokenHash(ctx context.Context, tokenHash string) (SessionPrincipal, error) {
	var p SessionPrincipal
	err := s.pool.QueryRow(ctx, `
		SELECT se.id, u.id, u.email, u.full_name, se.csrf_token, se.expires_at
		FROM sessions se
		JOIN users u ON u.id = se.user_id
		WHERE se.token_hash = $1
		  AND se.revoked_at IS NULL
		  AND se.expires_at > now()
		  AND u.is_active
	`, tokenHash).Scan(&p.SessionID, &p.UserID, &p.Email, &p.FullName, &p.CsrfToken, &p.ExpiresAt)
	return p, err
}

func (s *Store) TouchSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_seen_at = now() WHERE id = $1`, sessionID)
	return err
}

func (s *Store) RevokeSessionByID(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, sessionID)
	return err
}

func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash)
	return err
}

type UserHasPermissionParams struct {
	UserID     uuid.UUID
	Permission string
}

func (s *Store) UserHasPermission(ctx context.Context, params UserHasPermissionParams) (bool, error) {
	var has bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1 AND p.name = $2
		)
	`, params.UserID, params.Permission).Scan(&has)
	return has, err
}
