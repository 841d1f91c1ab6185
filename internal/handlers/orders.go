package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/middleware"
	"github.com/voltops-platform/api/internal/store"
)

type orderPayload struct {
	ID                 uuid.UUID  `json:"id"`
	PartnerID          uuid.UUID  `json:"partnerId"`
	ExternalID         string     `json:"externalId"`
	ClientID           uuid.UUID  `json:"clientId"`
	InstallDate        *string    `json:"installDate"`
	EngineerID         *uuid.UUID `json:"engineerId"`
	AmountPennies      *int64     `json:"amountPennies"`
	JobType            *string    `json:"jobType"`
	Status             string     `json:"status"`
	DurationHours      *float64   `json:"durationHours"`
	SuppressScheduling bool       `json:"suppressScheduling"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toOrderPayload(o store.Order) orderPayload {
	p := orderPayload{
		ID:                 o.ID,
		PartnerID:          o.PartnerID,
		ExternalID:         o.ExternalID,
		ClientID:           o.ClientID,
		EngineerID:         o.EngineerID,
		AmountPennies:      o.AmountPennies,
		JobType:            o.JobType,
		Status:             o.Status,
		DurationHours:      o.DurationHours,
		SuppressScheduling: o.SuppressScheduling,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if o.InstallDate != nil {
		d := o.InstallDate.UTC().Format("2006-01-02")
		p.InstallDate = &d
	}
	return p
}

func (s *Server) GetOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r)
	params := store.ListOrdersParams{Limit: limit, Offset: offset}

	if raw := r.URL.Query().Get("partner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid partner_id", nil)
			return
		}
		params.PartnerID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		params.Status = &raw
	}

	orders, err := s.Store.ListOrders(r.Context(), params)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list orders", nil)
		return
	}

	payload := make([]orderPayload, 0, len(orders))
	for _, o := range orders {
		payload = append(payload, toOrderPayload(o))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": payload})
}

func (s *Server) GetOrdersID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid order id", nil)
		return
	}

	order, err := s.Store.GetOrderByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Order not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load order", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderPayload(order))
}

type createOrderRequest struct {
	PartnerID     uuid.UUID  `json:"partnerId"`
	ExternalID    string     `json:"externalId"`
	ClientID      uuid.UUID  `json:"clientId"`
	InstallDate   *string    `json:"installDate"`
	EngineerID    *uuid.UUID `json:"engineerId"`
	AmountPennies *int64     `json:"amountPennies"`
	JobType       *string    `json:"jobType"`
	Status        string     `json:"status"`
	DurationHours *float64   `json:"durationHours"`
}

func (s *Server) PostOrders(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.PartnerID == uuid.Nil || req.ExternalID == "" || req.ClientID == uuid.Nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "partnerId, externalId and clientId are required", nil)
		return
	}
	if req.Status == "" {
		req.Status = "booked"
	}

	params := store.CreateOrderParams{
		PartnerID:     req.PartnerID,
		ExternalID:    req.ExternalID,
		ClientID:      req.ClientID,
		EngineerID:    req.EngineerID,
		AmountPennies: req.AmountPennies,
		JobType:       req.JobType,
		Status:        req.Status,
		DurationHours: req.DurationHours,
	}
	if req.InstallDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.InstallDate)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "installDate must be YYYY-MM-DD", nil)
			return
		}
		anchored := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 12, 0, 0, 0, time.UTC)
		params.InstallDate = &anchored
	}
	params.SuppressScheduling = params.InstallDate == nil

	order, err := s.Store.CreateOrder(r.Context(), params)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httpx.WriteError(w, r, http.StatusConflict, "conflict", "An order with this external id already exists for the partner", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create order", nil)
		return
	}

	orderID := order.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "order.create",
		EntityType: "order",
		EntityID:   &orderID,
		RequestID:  middleware.RequestIDFromContext(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusCreated, toOrderPayload(order))
}

type updateOrderRequest struct {
	InstallDate        *string    `json:"installDate"`
	EngineerID         *uuid.UUID `json:"engineerId"`
	AmountPennies      *int64     `json:"amountPennies"`
	JobType            *string    `json:"jobType"`
	Status             *string    `json:"status"`
	DurationHours      *float64   `json:"durationHours"`
	SuppressScheduling *bool      `json:"suppressScheduling"`
}

// PatchOrdersID applies a partial update; absent fields keep their value.
func (s *Server) PatchOrdersID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid order id", nil)
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}

	params := store.UpdateOrderParams{
		ID:                 id,
		EngineerID:         req.EngineerID,
		AmountPennies:      req.AmountPennies,
		JobType:            req.JobType,
		Status:             req.Status,
		DurationHours:      req.DurationHours,
		SuppressScheduling: req.SuppressScheduling,
	}
	if req.InstallDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.InstallDate)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "installDate must be YYYY-MM-DD", nil)
			return
		}
		anchored := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 12, 0, 0, 0, time.UTC)
		params.InstallDate = &anchored
	}
	if req.DurationHours != nil && (*req.DurationHours < 0 || *req.DurationHours > 12) {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "durationHours must be between 0 and 12", nil)
		return
	}

	order, err := s.Store.UpdateOrder(r.Context(), params)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Order not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to update order", nil)
		return
	}

	orderID := order.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "order.update",
		EntityType: "order",
		EntityID:   &orderID,
		RequestID:  middleware.RequestIDFromContext(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusOK, toOrderPayload(order))
}
