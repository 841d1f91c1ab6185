package handlers

import (
	"net/http"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/voltops-platform/api/internal/httpx"
)

type partnerPayload struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	IsActive bool      `json:"isActive"`
}

func (s *Server) GetPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := s.Store.ListPartners(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list partners", nil)
		return
	}

	payload := make([]partnerPayload, 0, len(partners))
	for _, p := range partners {
		payload = append(payload, partnerPayload{ID: p.ID, Name: p.Name, Slug: p.Slug, IsActive: p.IsActive})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"partners": payload})
}

type engineerPayload struct {
	ID       uuid.UUID            `json:"id"`
	Name     string               `json:"name"`
	Email    *openapi_types.Email `json:"email"`
	IsActive bool                 `json:"isActive"`
}

func (s *Server) GetEngineers(w http.ResponseWriter, r *http.Request) {
	engineers, err := s.Store.ListEngineers(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list engineers", nil)
		return
	}

	payload := make([]engineerPayload, 0, len(engineers))
	for _, e := range engineers {
		p := engineerPayload{ID: e.ID, Name: e.Name, IsActive: e.IsActive}
		if e.Email != nil {
			email := openapi_types.Email(*e.Email)
			p.Email = &email
		}
		payload = append(payload, p)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"engineers": payload})
}
