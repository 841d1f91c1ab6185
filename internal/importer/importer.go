// Package importer implements the partner job import reconciler: it turns a
// partner's spreadsheet export into normalized client and order rows without
// touching previously imported data, and reports exactly what happened to
// every row.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/voltops-platform/api/internal/sheets"
	"github.com/voltops-platform/api/internal/store"
)

var (
	ErrProfileNotFound = errors.New("import profile not found")
	ErrProfileInactive = errors.New("import profile is inactive")
	ErrPartnerInactive = errors.New("partner is inactive")
	ErrNoSource        = errors.New("profile has no spreadsheet source and no csv data was supplied")
	ErrBadCSV          = errors.New("csv parsing failed")
	ErrSheetFetch      = errors.New("spreadsheet fetch failed")
)

type Datastore interface {
	GetImportProfileByID(ctx context.Context, id uuid.UUID) (store.ImportProfile, error)
	GetPartnerByID(ctx context.Context, id uuid.UUID) (store.Partner, error)
	ListEngineers(ctx context.Context) ([]store.Engineer, error)
	ListOrderExternalIDs(ctx context.Context, partnerID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error)
	BulkUpsertClients(ctx context.Context, partnerID uuid.UUID, batch []store.ClientUpsert) ([]store.ClientRef, error)
	BulkInsertOrders(ctx context.Context, batch []store.OrderInsert) ([]store.OrderInsertResult, error)
	CreateImportRun(ctx context.Context, params store.CreateImportRunParams) (store.ImportRun, error)
	InsertImportRowResults(ctx context.Context, runID uuid.UUID, results []store.ImportRowResultInsert) error
}

type SheetSource interface {
	FetchRows(ctx context.Context, req sheets.FetchRequest) (sheets.FetchResult, error)
}

type Reconciler struct {
	store     Datastore
	sheets    SheetSource
	logger    *slog.Logger
	batchSize int
}

func New(datastore Datastore, sheetSource SheetSource, logger *slog.Logger, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reconciler{store: datastore, sheets: sheetSource, logger: logger, batchSize: batchSize}
}

const (
	statusBooked    = "booked"
	statusScheduled = "scheduled"
	statusCompleted = "completed"
	statusCancelled = "cancelled"
	statusOnHold    = "on_hold"
)

var knownStatuses = map[string]struct{}{
	statusBooked: {}, statusScheduled: {}, statusCompleted: {}, statusCancelled: {}, statusOnHold: {},
}

// Run executes one import. Malformed cells degrade to warnings; only
// structural failures (missing profile, fetch failure) return an error.
// Batch-level upsert failures are reported inside the result and do not
// abort the remaining batches.
func (r *Reconciler) Run(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	result := Result{RunID: uuid.New(), DryRun: req.DryRun}

	profile, err := r.store.GetImportProfileByID(ctx, req.ProfileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, ErrProfileNotFound
		}
		return result, fmt.Errorf("load profile: %w", err)
	}
	if !profile.IsActive {
		return result, ErrProfileInactive
	}

	partner, err := r.store.GetPartnerByID(ctx, profile.PartnerID)
	if err != nil {
		return result, fmt.Errorf("load partner: %w", err)
	}
	if !partner.IsActive {
		return result, ErrPartnerInactive
	}

	fetchStart := time.Now()
	headers, rows, totalRows, err := r.loadRows(ctx, profile, req)
	if err != nil {
		return result, err
	}
	fetchMs := time.Since(fetchStart).Milliseconds()

	result.ChunkInfo = ChunkInfo{
		StartRow:     req.StartRow,
		MaxRows:      req.MaxRows,
		TotalRows:    totalRows,
		ReturnedRows: len(rows),
		HasMore:      req.StartRow+len(rows) < totalRows,
	}

	if len(rows) == 0 {
		result.Success = true
		result.Metrics = Performance{FetchMs: fetchMs, TotalMs: time.Since(started).Milliseconds()}
		return result, nil
	}

	mapStart := time.Now()
	mapping, missingFields := resolveColumnMapping(profile.ColumnMapping, headers)

	var counts Counts
	var details Details
	for _, field := range missingFields {
		counts.Warnings++
		details.Warnings = append(details.Warnings, RowDetail{
			Row:     0,
			Field:   field,
			Message: fmt.Sprintf("mapped column %q not found in sheet header", profile.ColumnMapping[field]),
		})
	}

	lookups, err := r.buildLookups(ctx, profile)
	if err != nil {
		return result, err
	}

	var filter map[string]struct{}
	if len(req.JobIDsFilter) > 0 {
		filter = make(map[string]struct{}, len(req.JobIDsFilter))
		for _, id := range req.JobIDsFilter {
			filter[strings.TrimSpace(id)] = struct{}{}
		}
	}

	candidates := make([]candidate, 0, len(rows))
	seenExternal := make(map[string]int, len(rows))
	for i, record := range rows {
		// Sheet row numbers are 1-based and row 1 is the header.
		rowNumber := req.StartRow + i + 2
		src := buildSourceRow(rowNumber, record, mapping)

		if src.ExternalID == "" || (src.ClientName == "" && src.ClientEmail == "") {
			counts.Skipped++
			details.Skipped = append(details.Skipped, RowDetail{
				Row:        rowNumber,
				ExternalID: src.ExternalID,
				Message:    skipReason(src),
			})
			continue
		}
		if filter != nil {
			if _, ok := filter[src.ExternalID]; !ok {
				counts.Skipped++
				details.Skipped = append(details.Skipped, RowDetail{
					Row:        rowNumber,
					ExternalID: src.ExternalID,
					Message:    "not in requested job id filter",
				})
				continue
			}
		}
		if firstRow, dup := seenExternal[src.ExternalID]; dup {
			counts.Skipped++
			counts.Duplicates++
			details.Skipped = append(details.Skipped, RowDetail{
				Row:        rowNumber,
				ExternalID: src.ExternalID,
				Message:    fmt.Sprintf("duplicate of row %d in this sheet", firstRow),
			})
			continue
		}
		seenExternal[src.ExternalID] = rowNumber

		candidates = append(candidates, r.normalizeRow(src, partner, lookups, &counts, &details))
	}
	mapMs := time.Since(mapStart).Milliseconds()

	externalIDs := make([]string, len(candidates))
	for i, c := range candidates {
		externalIDs[i] = c.ExternalID
	}
	existing, err := r.store.ListOrderExternalIDs(ctx, partner.ID, externalIDs)
	if err != nil {
		return result, fmt.Errorf("lookup existing orders: %w", err)
	}

	toInsert := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := existing[c.ExternalID]; ok {
			counts.Skipped++
			counts.Duplicates++
			details.Skipped = append(details.Skipped, RowDetail{
				Row:        c.Row,
				ExternalID: c.ExternalID,
				Message:    "order already exists",
			})
			continue
		}
		toInsert = append(toInsert, c)
	}

	upsertStart := time.Now()
	if req.DryRun {
		for _, c := range toInsert {
			counts.Inserted++
			details.Inserted = append(details.Inserted, RowDetail{
				Row:        c.Row,
				ExternalID: c.ExternalID,
				Message:    "order would be inserted",
			})
		}
	} else {
		r.applyBatches(ctx, partner.ID, lookups.defaults, toInsert, &counts, &details)
	}
	upsertMs := time.Since(upsertStart).Milliseconds()

	result.Success = true
	result.Results = counts
	result.Details = details
	result.Metrics = Performance{
		FetchMs:  fetchMs,
		MapMs:    mapMs,
		UpsertMs: upsertMs,
		TotalMs:  time.Since(started).Milliseconds(),
	}

	if !req.DryRun {
		if err := r.persistRun(ctx, req, profile, started, result); err != nil {
			// The orders are committed; losing the audit row must not fail the run.
			r.logger.Error("persist import run", "run_id", result.RunID, "error", err)
		}
	}
	return result, nil
}

func skipReason(src sourceRow) string {
	if src.ExternalID == "" {
		return "missing external job id"
	}
	return "missing both client name and email"
}

func (r *Reconciler) loadRows(ctx context.Context, profile store.ImportProfile, req Request) ([]string, [][]string, int, error) {
	if strings.TrimSpace(req.CSVData) != "" {
		return parseCSVRows(req.CSVData, req.StartRow, req.MaxRows)
	}

	if profile.SpreadsheetID == nil || profile.SheetName == nil {
		return nil, nil, 0, ErrNoSource
	}
	fetched, err := r.sheets.FetchRows(ctx, sheets.FetchRequest{
		SpreadsheetID: *profile.SpreadsheetID,
		SheetName:     *profile.SheetName,
		StartRow:      req.StartRow,
		MaxRows:       req.MaxRows,
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: %v", ErrSheetFetch, err)
	}
	return fetched.Headers, fetched.Rows, fetched.TotalRows, nil
}

func parseCSVRows(data string, startRow, maxRows int) ([]string, [][]string, int, error) {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records := make([][]string, 0, 256)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: %v", ErrBadCSV, err)
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil, nil, 0, nil
	}

	headers := records[0]
	dataRows := records[1:]
	totalRows := len(dataRows)

	if startRow > 0 {
		if startRow >= len(dataRows) {
			dataRows = nil
		} else {
			dataRows = dataRows[startRow:]
		}
	}
	if maxRows > 0 && len(dataRows) > maxRows {
		dataRows = dataRows[:maxRows]
	}
	return headers, dataRows, totalRows, nil
}

type runLookups struct {
	engineers map[string]uuid.UUID
	statuses  map[string]string
	defaults  map[string]float64
}

// buildLookups loads the engineer and status translation tables once per run
// so row processing stays O(rows).
func (r *Reconciler) buildLookups(ctx context.Context, profile store.ImportProfile) (runLookups, error) {
	lookups := runLookups{
		engineers: map[string]uuid.UUID{},
		statuses:  map[string]string{},
		defaults:  map[string]float64{},
	}

	engineers, err := r.store.ListEngineers(ctx)
	if err != nil {
		return lookups, fmt.Errorf("load engineers: %w", err)
	}
	for _, e := range engineers {
		if !e.IsActive {
			continue
		}
		lookups.engineers[strings.ToLower(e.Name)] = e.ID
		if e.Email != nil {
			lookups.engineers[strings.ToLower(*e.Email)] = e.ID
		}
	}
	// Profile aliases win over the engineer table.
	for alias, idValue := range profile.EngineerMapping {
		id, err := uuid.Parse(idValue)
		if err != nil {
			r.logger.Warn("invalid engineer mapping entry", "profile_id", profile.ID, "alias", alias)
			continue
		}
		lookups.engineers[strings.ToLower(strings.TrimSpace(alias))] = id
	}

	for code, status := range profile.StatusMapping {
		lookups.statuses[strings.ToLower(strings.TrimSpace(code))] = status
	}
	for jobType, hours := range profile.DefaultDurations {
		lookups.defaults[strings.ToLower(strings.TrimSpace(jobType))] = hours
	}
	return lookups, nil
}

func (r *Reconciler) normalizeRow(src sourceRow, partner store.Partner, lookups runLookups, counts *Counts, details *Details) candidate {
	warn := func(field, message, raw string) {
		counts.Warnings++
		details.Warnings = append(details.Warnings, RowDetail{
			Row:        src.RowNumber,
			ExternalID: src.ExternalID,
			Field:      field,
			Message:    message,
			RawValue:   raw,
		})
	}

	c := candidate{
		Row:        src.RowNumber,
		ExternalID: src.ExternalID,
		Name:       strings.TrimSpace(src.ClientName),
	}

	c.Email = normalizeEmail(src.ClientEmail)
	if c.Email == "" {
		// Orders need a client row; synthesize a stable placeholder address
		// so name-only rows still reconcile to the same client on re-runs.
		c.Email = strings.ToLower(src.ExternalID) + "@import." + partner.Slug + ".invalid"
		warn(fieldClientEmail, "client email missing, generated placeholder", "")
	}
	if c.Name == "" {
		c.Name = "Imported Client"
	}

	if phone, ok := normalizePhone(src.ClientPhone); !ok {
		warn(fieldClientPhone, "unparseable phone number", src.ClientPhone)
	} else if phone != "" {
		c.Phone = &phone
	}

	if address := strings.TrimSpace(src.Address); address != "" {
		c.Address = &address
	}
	if postcode := strings.ToUpper(strings.TrimSpace(src.Postcode)); postcode != "" {
		c.Postcode = &postcode
	}

	c.InstallDate = parseInstallDate(src.InstallDate)

	if engineer := strings.ToLower(strings.TrimSpace(src.Engineer)); engineer != "" {
		if id, ok := lookups.engineers[engineer]; ok {
			engineerID := id
			c.EngineerID = &engineerID
		} else {
			warn(fieldEngineer, "unknown engineer", src.Engineer)
		}
	}

	if amount, ok := parseAmountPennies(src.Amount); !ok {
		warn(fieldAmount, "unparseable amount", src.Amount)
	} else {
		c.AmountPennies = amount
	}

	if jobType := strings.TrimSpace(src.JobType); jobType != "" {
		c.JobType = &jobType
	}

	c.Status = statusBooked
	if code := strings.ToLower(strings.TrimSpace(src.Status)); code != "" {
		mapped, ok := lookups.statuses[code]
		if !ok {
			warn(fieldStatus, "unmapped partner status, defaulted to booked", src.Status)
		} else if _, known := knownStatuses[mapped]; !known {
			warn(fieldStatus, "status mapping targets unknown status, defaulted to booked", mapped)
		} else {
			c.Status = mapped
		}
	}

	if raw := strings.TrimSpace(src.Duration); raw != "" {
		if hours, ok := parseDurationHours(raw); ok {
			c.Hours = &hours
			c.HoursSet = true
		} else {
			// Leave HoursSet false: the write path must not overwrite
			// whatever duration the database already holds.
			warn(fieldDuration, "unparseable duration", raw)
		}
	}

	return c
}

func (r *Reconciler) applyBatches(ctx context.Context, partnerID uuid.UUID, defaultDurations map[string]float64, candidates []candidate, counts *Counts, details *Details) {
	for start := 0; start < len(candidates); start += r.batchSize {
		end := min(start+r.batchSize, len(candidates))
		batch := candidates[start:end]

		failBatch := func(stage string, err error) {
			r.logger.Error("import batch failed", "stage", stage, "batch_start", start, "error", err)
			for _, c := range batch {
				counts.Errors++
				details.Errors = append(details.Errors, RowDetail{
					Row:        c.Row,
					ExternalID: c.ExternalID,
					Message:    fmt.Sprintf("%s failed: %v", stage, err),
				})
			}
		}

		clientBatch := make([]store.ClientUpsert, 0, len(batch))
		seenEmail := make(map[string]struct{}, len(batch))
		for _, c := range batch {
			if _, dup := seenEmail[c.Email]; dup {
				continue
			}
			seenEmail[c.Email] = struct{}{}
			clientBatch = append(clientBatch, store.ClientUpsert{
				Email:    c.Email,
				Name:     c.Name,
				Phone:    c.Phone,
				Address:  c.Address,
				Postcode: c.Postcode,
			})
		}

		refs, err := r.store.BulkUpsertClients(ctx, partnerID, clientBatch)
		if err != nil {
			failBatch("client upsert", err)
			continue
		}
		clientIDs := make(map[string]uuid.UUID, len(refs))
		for _, ref := range refs {
			clientIDs[ref.Email] = ref.ClientID
		}

		orders := make([]store.OrderInsert, 0, len(batch))
		orderRows := make(map[string]candidate, len(batch))
		for _, c := range batch {
			clientID, ok := clientIDs[c.Email]
			if !ok {
				counts.Errors++
				details.Errors = append(details.Errors, RowDetail{
					Row:        c.Row,
					ExternalID: c.ExternalID,
					Message:    "client could not be resolved after upsert",
				})
				continue
			}

			hours := c.Hours
			if !c.HoursSet && c.JobType != nil {
				if fallback, ok := defaultDurations[strings.ToLower(*c.JobType)]; ok {
					hours = &fallback
				}
			}

			orders = append(orders, store.OrderInsert{
				PartnerID:          partnerID,
				ExternalID:         c.ExternalID,
				ClientID:           clientID,
				InstallDate:        c.InstallDate,
				EngineerID:         c.EngineerID,
				AmountPennies:      c.AmountPennies,
				JobType:            c.JobType,
				Status:             c.Status,
				DurationHours:      hours,
				SuppressScheduling: c.InstallDate == nil,
			})
			orderRows[c.ExternalID] = c
		}

		results, err := r.store.BulkInsertOrders(ctx, orders)
		if err != nil {
			for _, o := range orders {
				c := orderRows[o.ExternalID]
				counts.Errors++
				details.Errors = append(details.Errors, RowDetail{
					Row:        c.Row,
					ExternalID: c.ExternalID,
					Message:    fmt.Sprintf("order insert failed: %v", err),
				})
			}
			continue
		}

		inserted := make(map[string]struct{}, len(results))
		for _, res := range results {
			inserted[res.ExternalID] = struct{}{}
		}
		for _, o := range orders {
			c := orderRows[o.ExternalID]
			if _, ok := inserted[o.ExternalID]; ok {
				counts.Inserted++
				details.Inserted = append(details.Inserted, RowDetail{
					Row:        c.Row,
					ExternalID: c.ExternalID,
					Message:    "order inserted",
				})
				continue
			}
			// Lost the read-then-write race against a concurrent run.
			counts.Skipped++
			counts.Duplicates++
			details.Skipped = append(details.Skipped, RowDetail{
				Row:        c.Row,
				ExternalID: c.ExternalID,
				Message:    "order already exists",
			})
		}
	}
}

func (r *Reconciler) persistRun(ctx context.Context, req Request, profile store.ImportProfile, started time.Time, result Result) error {
	detail, err := json.Marshal(result.Details)
	if err != nil {
		return fmt.Errorf("marshal run detail: %w", err)
	}

	status := "completed"
	if result.Results.Errors > 0 {
		status = "completed_with_errors"
	}

	if _, err := r.store.CreateImportRun(ctx, store.CreateImportRunParams{
		ID:         result.RunID,
		ProfileID:  profile.ID,
		PartnerID:  profile.PartnerID,
		DryRun:     false,
		Status:     status,
		Inserted:   result.Results.Inserted,
		Updated:    result.Results.Updated,
		Skipped:    result.Results.Skipped,
		Duplicates: result.Results.Duplicates,
		Warnings:   result.Results.Warnings,
		Errors:     result.Results.Errors,
		DetailJSON: detail,
		FetchMs:    result.Metrics.FetchMs,
		MapMs:      result.Metrics.MapMs,
		UpsertMs:   result.Metrics.UpsertMs,
		TotalMs:    result.Metrics.TotalMs,
		CreatedBy:  req.RequestedBy,
		StartedAt:  started.UTC(),
	}); err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}

	rowResults := collectRowResults(result.Details)
	if err := r.store.InsertImportRowResults(ctx, result.RunID, rowResults); err != nil {
		return fmt.Errorf("insert row results: %w", err)
	}
	return nil
}

func collectRowResults(details Details) []store.ImportRowResultInsert {
	out := make([]store.ImportRowResultInsert, 0,
		len(details.Inserted)+len(details.Skipped)+len(details.Warnings)+len(details.Errors))

	add := func(list []RowDetail, severity, outcome string) {
		for _, d := range list {
			insert := store.ImportRowResultInsert{
				RowNumber: d.Row,
				Severity:  severity,
				Result:    outcome,
				Message:   d.Message,
			}
			if d.ExternalID != "" {
				externalID := d.ExternalID
				insert.ExternalID = &externalID
			}
			if d.Field != "" {
				field := d.Field
				insert.Field = &field
			}
			if d.RawValue != "" {
				raw := d.RawValue
				insert.RawValue = &raw
			}
			out = append(out, insert)
		}
	}

	add(details.Inserted, "info", "inserted")
	add(details.Updated, "info", "updated")
	add(details.Skipped, "info", "skipped")
	add(details.Warnings, "warn", "warning")
	add(details.Errors, "error", "error")
	return out
}
