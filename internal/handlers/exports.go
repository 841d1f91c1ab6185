package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/middleware"
)

// GetExportsClientsCSV streams every client as CSV.
func (s *Server) GetExportsClientsCSV(w http.ResponseWriter, r *http.Request) {
	// High page size keeps this a single query for realistic datasets.
	clients, err := s.Store.ListClients(r.Context(), 100000, 0)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load clients", nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="clients.csv"`)
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"id", "partner_id", "email", "name", "phone", "address", "postcode", "created_at"})
	for _, c := range clients {
		_ = writer.Write([]string{
			c.ID.String(),
			c.PartnerID.String(),
			c.Email,
			c.Name,
			deref(c.Phone),
			deref(c.Address),
			deref(c.Postcode),
			c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writer.Flush()

	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "export.download",
		EntityType: "export",
		RequestID:  middleware.RequestIDFromContext(r.Context()),
		Metadata:   map[string]any{"kind": "clients.csv", "rows": len(clients)},
	})
}

// GetExportsOrdersCSV streams every order joined with its client and engineer.
func (s *Server) GetExportsOrdersCSV(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Store.ExportOrdersRows(r.Context())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load orders", nil)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"id", "external_id", "client_email", "client_name", "engineer",
		"install_date", "amount", "job_type", "status", "duration_hours", "suppress_scheduling",
	})
	for _, o := range orders {
		installDate := ""
		if o.InstallDate != nil {
			installDate = o.InstallDate.UTC().Format("2006-01-02")
		}
		amount := ""
		if o.AmountPennies != nil {
			amount = fmt.Sprintf("%.2f", float64(*o.AmountPennies)/100)
		}
		duration := ""
		if o.DurationHours != nil {
			duration = strconv.FormatFloat(*o.DurationHours, 'f', -1, 64)
		}
		_ = writer.Write([]string{
			o.ID.String(),
			o.ExternalID,
			o.ClientEmail,
			o.ClientName,
			deref(o.EngineerName),
			installDate,
			amount,
			deref(o.JobType),
			o.Status,
			duration,
			strconv.FormatBool(o.SuppressScheduling),
		})
	}
	writer.Flush()

	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     actorUserID(r),
		Action:     "export.download",
		EntityType: "export",
		RequestID:  middleware.RequestIDFromContext(r.Context()),
		Metadata:   map[string]any{"kind": "orders.csv", "rows": len(orders)},
	})
}
