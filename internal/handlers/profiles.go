package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/middleware"
	"github.com/voltops-platform/api/internal/store"
)

type profilePayload struct {
	ID               uuid.UUID          `json:"id"`
	PartnerID        uuid.UUID          `json:"partnerId"`
	Name             string             `json:"name"`
	IsActive         bool               `json:"isActive"`
	ColumnMapping    map[string]string  `json:"columnMapping"`
	EngineerMapping  map[string]string  `json:"engineerMapping"`
	StatusMapping    map[string]string  `json:"statusMapping"`
	DefaultDurations map[string]float64 `json:"defaultDurations"`
	SpreadsheetID    *string            `json:"spreadsheetId"`
	SheetName        *string            `json:"sheetName"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

func toProfilePayload(p store.ImportProfile) profilePayload {
	return profilePayload{
		ID:               p.ID,
		PartnerID:        p.PartnerID,
		Name:             p.Name,
		IsActive:         p.IsActive,
		ColumnMapping:    p.ColumnMapping,
		EngineerMapping:  p.EngineerMapping,
		StatusMapping:    p.StatusMapping,
		DefaultDurations: p.DefaultDurations,
		SpreadsheetID:    p.SpreadsheetID,
		SheetName:        p.SheetName,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (s *Server) GetImportProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.Store.ListImportProfiles(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list import profiles", nil)
		return
	}

	payload := make([]profilePayload, 0, len(profiles))
	for _, p := range profiles {
		payload = append(payload, toProfilePayload(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"profiles": payload})
}

func (s *Server) GetImportProfilesID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid profile id", nil)
		return
	}

	profile, err := s.Store.GetImportProfileByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Import profile not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load import profile", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProfilePayload(profile))
}

type createProfileRequest struct {
	PartnerID        uuid.UUID          `json:"partnerId"`
	Name             string             `json:"name"`
	IsActive         *bool              `json:"isActive"`
	ColumnMapping    map[string]string  `json:"columnMapping"`
	EngineerMapping  map[string]string  `json:"engineerMapping"`
	StatusMapping    map[string]string  `json:"statusMapping"`
	DefaultDurations map[string]float64 `json:"defaultDurations"`
	SpreadsheetID    *string            `json:"spreadsheetId"`
	SheetName        *string            `json:"sheetName"`
}

func (s *Server) PostImportProfiles(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.PartnerID == uuid.Nil || req.Name == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "partnerId and name are required", nil)
		return
	}
	if len(req.ColumnMapping) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "columnMapping is required", nil)
		return
	}

	if _, err := s.Store.GetPartnerByID(r.Context(), req.PartnerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Unknown partner", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load partner", nil)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	profile, err := s.Store.CreateImportProfile(r.Context(), store.CreateImportProfileParams{
		PartnerID:        req.PartnerID,
		Name:             req.Name,
		IsActive:         isActive,
		ColumnMapping:    req.ColumnMapping,
		EngineerMapping:  req.EngineerMapping,
		StatusMapping:    req.StatusMapping,
		DefaultDurations: req.DefaultDurations,
		SpreadsheetID:    req.SpreadsheetID,
		SheetName:        req.SheetName,
	})
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create import profile", nil)
		return
	}

	profileID := profile.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "import_profile.create",
		EntityType: "import_profile",
		EntityID:   &profileID,
		RequestID:  middleware.RequestIDFromContext(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusCreated, toProfilePayload(profile))
}

type updateProfileRequest struct {
	Name             *string            `json:"name"`
	IsActive         *bool              `json:"isActive"`
	ColumnMapping    map[string]string  `json:"columnMapping"`
	EngineerMapping  map[string]string  `json:"engineerMapping"`
	StatusMapping    map[string]string  `json:"statusMapping"`
	DefaultDurations map[string]float64 `json:"defaultDurations"`
	SpreadsheetID    *string            `json:"spreadsheetId"`
	SheetName        *string            `json:"sheetName"`
}

func (s *Server) PatchImportProfilesID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid profile id", nil)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}

	profile, err := s.Store.UpdateImportProfile(r.Context(), store.UpdateImportProfileParams{
		ID:               id,
		Name:             req.Name,
		IsActive:         req.IsActive,
		ColumnMapping:    req.ColumnMapping,
		EngineerMapping:  req.EngineerMapping,
		StatusMapping:    req.StatusMapping,
		DefaultDurations: req.DefaultDurations,
		SpreadsheetID:    req.SpreadsheetID,
		SheetName:        req.SheetName,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Import profile not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to update import profile", nil)
		return
	}

	profileID := profile.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "import_profile.update",
		EntityType: "import_profile",
		EntityID:   &profileID,
		RequestID:  middleware.RequestIDFromContext(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusOK, toProfilePayload(profile))
}
