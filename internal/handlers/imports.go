package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/importer"
	"github.com/voltops-platform/api/internal/middleware"
	"github.com/voltops-platform/api/internal/store"
)

type runImportRequest struct {
	ProfileID    uuid.UUID `json:"profile_id"`
	DryRun       bool      `json:"dry_run"`
	CSVData      string    `json:"csv_data"`
	StartRow     int       `json:"start_row"`
	MaxRows      int       `json:"max_rows"`
	JobIDsFilter []string  `json:"job_ids_filter"`
}

// PostImportsPartner runs a partner import synchronously and returns the full
// per-row outcome report.
func (s *Server) PostImportsPartner(w http.ResponseWriter, r *http.Request) {
	var req runImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}
	if req.ProfileID == uuid.Nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "profile_id is required", nil)
		return
	}
	if req.MaxRows <= 0 || req.MaxRows > s.Config.ImportMaxRows {
		req.MaxRows = s.Config.ImportMaxRows
	}
	if req.StartRow < 0 {
		req.StartRow = 0
	}

	result, err := s.Importer.Run(r.Context(), importer.Request{
		ProfileID:    req.ProfileID,
		DryRun:       req.DryRun,
		CSVData:      req.CSVData,
		StartRow:     req.StartRow,
		MaxRows:      req.MaxRows,
		JobIDsFilter: req.JobIDsFilter,
		RequestedBy:  actorUserID(r),
		RequestID:    middleware.RequestIDFromContext(r.Context()),
	})
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrProfileNotFound):
			httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Import profile not found", nil)
		case errors.Is(err, importer.ErrProfileInactive):
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Import profile is inactive", nil)
		case errors.Is(err, importer.ErrPartnerInactive):
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Partner is inactive", nil)
		case errors.Is(err, importer.ErrNoSource):
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Profile has no spreadsheet and no csv_data was supplied", nil)
		case errors.Is(err, importer.ErrBadCSV):
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "csv_data could not be parsed", nil)
		case errors.Is(err, importer.ErrSheetFetch):
			httpx.WriteError(w, r, http.StatusBadGateway, "upstream_error", "Spreadsheet fetch failed", nil)
		default:
			s.Logger.Error("import run failed", "error", err)
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Import failed", nil)
		}
		return
	}

	if !result.DryRun {
		runID := result.RunID
		_ = s.Audit.Log(r.Context(), audit.Entry{
			UserID:     actorUserID(r),
			Action:     "import.run",
			EntityType: "import_run",
			EntityID:   &runID,
			RequestID:  middleware.RequestIDFromContext(r.Context()),
			Metadata: map[string]any{
				"inserted":   result.Results.Inserted,
				"skipped":    result.Results.Skipped,
				"duplicates": result.Results.Duplicates,
				"warnings":   result.Results.Warnings,
				"errors":     result.Results.Errors,
			},
		})
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

type importRunPayload struct {
	ID          uuid.UUID       `json:"id"`
	ProfileID   uuid.UUID       `json:"profileId"`
	PartnerID   uuid.UUID       `json:"partnerId"`
	Status      string          `json:"status"`
	Inserted    int             `json:"inserted"`
	Updated     int             `json:"updated"`
	Skipped     int             `json:"skipped"`
	Duplicates  int             `json:"duplicates"`
	Warnings    int             `json:"warnings"`
	Errors      int             `json:"errors"`
	Detail      json.RawMessage `json:"detail"`
	FetchMs     int64           `json:"fetchMs"`
	MapMs       int64           `json:"mapMs"`
	UpsertMs    int64           `json:"upsertMs"`
	TotalMs     int64           `json:"totalMs"`
	CreatedBy   *uuid.UUID      `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt time.Time       `json:"completedAt"`
}

func toImportRunPayload(run store.ImportRun) importRunPayload {
	detail := run.DetailJSON
	if len(detail) == 0 {
		detail = []byte(`{}`)
	}
	return importRunPayload{
		ID:          run.ID,
		ProfileID:   run.ProfileID,
		PartnerID:   run.PartnerID,
		Status:      run.Status,
		Inserted:    run.Inserted,
		Updated:     run.Updated,
		Skipped:     run.Skipped,
		Duplicates:  run.Duplicates,
		Warnings:    run.Warnings,
		Errors:      run.Errors,
		Detail:      json.RawMessage(detail),
		FetchMs:     run.FetchMs,
		MapMs:       run.MapMs,
		UpsertMs:    run.UpsertMs,
		TotalMs:     run.TotalMs,
		CreatedBy:   run.CreatedBy,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
}

func (s *Server) GetImports(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r)
	runs, err := s.Store.ListImportRuns(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to list import runs", nil)
		return
	}

	payload := make([]importRunPayload, 0, len(runs))
	for _, run := range runs {
		payload = append(payload, toImportRunPayload(run))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"runs": payload})
}

func (s *Server) GetImportsID(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toImportRunPayload(run))
}

// GetImportsIDReport serves the stored run report as a downloadable JSON file.
func (s *Server) GetImportsIDReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "import-report-"+run.ID.String()+".json"))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(toImportRunPayload(run))
}

// GetImportsIDErrors serves the run's warning and error rows as CSV.
func (s *Server) GetImportsIDErrors(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	results, err := s.Store.ListImportRowResultsByRun(r.Context(), run.ID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load row results", nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "import-errors-"+run.ID.String()+".csv"))
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"row", "severity", "result", "external_id", "field", "message", "raw_value"})
	for _, res := range results {
		if res.Severity == "info" {
			continue
		}
		_ = writer.Write([]string{
			strconv.Itoa(res.RowNumber),
			res.Severity,
			res.Result,
			deref(res.ExternalID),
			deref(res.Field),
			res.Message,
			deref(res.RawValue),
		})
	}
	writer.Flush()
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (store.ImportRun, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid run id", nil)
		return store.ImportRun{}, false
	}

	run, err := s.Store.GetImportRunByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "Import run not found", nil)
		return store.ImportRun{}, false
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load import run", nil)
		return store.ImportRun{}, false
	}
	return run, true
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
