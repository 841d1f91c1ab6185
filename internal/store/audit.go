package store

import (
	"context"

	"github.com/google/uuid"
)

type InsertAuditLogParams struct {
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	RequestID  *string
	Metadata   []byte
}

func (s *Store) InsertAuditLog(ctx context.Context, params InsertAuditLogParams) error {
	metadata := params.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (user_id, action, entity_type, entity_id, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, params.UserID, params.Action, params.EntityType, params.EntityID, params.RequestID, metadata)
	return err
}
