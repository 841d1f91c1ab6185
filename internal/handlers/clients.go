package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/middleware"
	"github.com/voltops-platform/api/internal/store"
)

type clientPayload struct {
	ID        uuid.UUID           `json:"id"`
	PartnerID uuid.UUID           `json:"partnerId"`
	Email     openapi_types.Email `json:"email"`
	Name      string              `json:"name"`
	Phone     *string             `json:"phone"`
	Address   *string             `json:"address"`
	Postcode  *string             `json:"postcode"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func toClientPayload(c store.Client) clientPayload {
	return clientPayload{
		ID:        c.ID,
		PartnerID: c.PartnerID,
		Email:     openapi_types.Email(c.Email),
		Name:      c.Name,
		Phone:     c.Phone,
		Address:   c.Address,
		Postcode:  c.Postcode,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (s *Server) GetClients(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r)
	clients, err := s.Store.ListClients(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list clients", nil)
		return
	}

	payload := make([]clientPayload, 0, len(clients))
	for _, c := range clients {
		payload = append(payload, toClientPayload(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"clients": payload})
}

func (s *Server) GetClientsID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid client id", nil)
		return
	}

	client, err := s.Store.GetClientByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Client not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load client", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toClientPayload(client))
}

type createClientRequest struct {
	PartnerID uuid.UUID           `json:"partnerId"`
	Email     openapi_types.Email `json:"email"`
	Name      string              `json:"name"`
	Phone     *string             `json:"phone"`
	Address   *string             `json:"address"`
	Postcode  *string             `json:"postcode"`
}

func (s *Server) PostClients(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.PartnerID == uuid.Nil || req.Email == "" || req.Name == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "partnerId, email and name are required", nil)
		return
	}

	client, err := s.Store.CreateClient(r.Context(), store.CreateClientParams{
		PartnerID: req.PartnerID,
		Email:     string(req.Email),
		Name:      req.Name,
		Phone:     req.Phone,
		Address:   req.Address,
		Postcode:  req.Postcode,
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create client", nil)
		return
	}

	clientID := client.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "client.create",
		EntityType: "client",
		EntityID:   &clientID,
		RequestID:  middleware.RequestIDFromContext(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusCreated, toClientPayload(client))
}
