package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/voltops-platform/api/internal/sheets"
	"github.com/voltops-platform/api/internal/store"
)

type fakeStore struct {
	profile  store.ImportProfile
	partner  store.Partner
	missing  bool
	existing map[string]uuid.UUID

	clientErrOn int // 1-based call number that fails, 0 = never
	orderErrOn  int

	clientCalls int
	orderCalls  int
	clientIDs   map[string]uuid.UUID
	inserted    map[string]struct{}
	runs        []store.CreateImportRunParams
	rowResults  []store.ImportRowResultInsert
	engineers   []store.Engineer
}

func (f *fakeStore) GetImportProfileByID(_ context.Context, id uuid.UUID) (store.ImportProfile, error) {
	if f.missing || id != f.profile.ID {
		return store.ImportProfile{}, pgx.ErrNoRows
	}
	return f.profile, nil
}

func (f *fakeStore) GetPartnerByID(_ context.Context, id uuid.UUID) (store.Partner, error) {
	if id != f.partner.ID {
		return store.Partner{}, pgx.ErrNoRows
	}
	return f.partner, nil
}

func (f *fakeStore) ListEngineers(context.Context) ([]store.Engineer, error) {
	return f.engineers, nil
}

func (f *fakeStore) ListOrderExternalIDs(_ context.Context, _ uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	found := map[string]uuid.UUID{}
	for _, id := range externalIDs {
		if orderID, ok := f.existing[id]; ok {
			found[id] = orderID
		}
	}
	return found, nil
}

func (f *fakeStore) BulkUpsertClients(_ context.Context, _ uuid.UUID, batch []store.ClientUpsert) ([]store.ClientRef, error) {
	f.clientCalls++
	if f.clientErrOn == f.clientCalls {
		return nil, errors.New("deadlock detected")
	}
	if f.clientIDs == nil {
		f.clientIDs = map[string]uuid.UUID{}
	}
	refs := make([]store.ClientRef, 0, len(batch))
	for _, c := range batch {
		id, ok := f.clientIDs[c.Email]
		if !ok {
			id = uuid.New()
			f.clientIDs[c.Email] = id
		}
		refs = append(refs, store.ClientRef{Email: c.Email, ClientID: id})
	}
	return refs, nil
}

func (f *fakeStore) BulkInsertOrders(_ context.Context, batch []store.OrderInsert) ([]store.OrderInsertResult, error) {
	f.orderCalls++
	if f.orderErrOn == f.orderCalls {
		return nil, errors.New("connection reset")
	}
	if f.inserted == nil {
		f.inserted = map[string]struct{}{}
	}
	var results []store.OrderInsertResult
	for _, o := range batch {
		if _, dup := f.existing[o.ExternalID]; dup {
			continue
		}
		if _, dup := f.inserted[o.ExternalID]; dup {
			continue
		}
		f.inserted[o.ExternalID] = struct{}{}
		results = append(results, store.OrderInsertResult{OrderID: uuid.New(), ExternalID: o.ExternalID, WasInsert: true})
	}
	return results, nil
}

func (f *fakeStore) CreateImportRun(_ context.Context, params store.CreateImportRunParams) (store.ImportRun, error) {
	f.runs = append(f.runs, params)
	return store.ImportRun{ID: params.ID}, nil
}

func (f *fakeStore) InsertImportRowResults(_ context.Context, _ uuid.UUID, results []store.ImportRowResultInsert) error {
	f.rowResults = append(f.rowResults, results...)
	return nil
}

type fakeSheets struct {
	result sheets.FetchResult
	err    error
}

func (f *fakeSheets) FetchRows(context.Context, sheets.FetchRequest) (sheets.FetchResult, error) {
	return f.result, f.err
}

func newFakeStore() *fakeStore {
	partnerID := uuid.New()
	return &fakeStore{
		partner: store.Partner{ID: partnerID, Name: "OctoCharge", Slug: "octocharge", IsActive: true},
		profile: store.ImportProfile{
			ID:        uuid.New(),
			PartnerID: partnerID,
			Name:      "OctoCharge weekly",
			IsActive:  true,
			ColumnMapping: map[string]string{
				fieldExternalID:  "Job ID",
				fieldClientName:  "Customer",
				fieldClientEmail: "Email",
				fieldClientPhone: "Phone",
				fieldInstallDate: "Install Date",
				fieldEngineer:    "Engineer",
				fieldAmount:      "Price",
				fieldJobType:     "Type",
				fieldStatus:      "Status",
				fieldDuration:    "Duration",
			},
			StatusMapping:    map[string]string{"confirmed": "scheduled", "done": "completed"},
			DefaultDurations: map[string]float64{"standard": 3},
		},
		existing: map[string]uuid.UUID{},
	}
}

func newTestReconciler(fs *fakeStore, batchSize int) *Reconciler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fs, &fakeSheets{}, logger, batchSize)
}

const sampleCSV = `Job ID,Customer,Email,Phone,Install Date,Engineer,Price,Type,Status,Duration
OCT-1001,Jane Smith,jane@example.com,+44 7700 900123,25/12/2026,,£850.00,standard,confirmed,4:30
OCT-1002,Bob Jones,bob@example.com,,TBC,,£1200,standard,,
`

func TestRunInsertsAndNormalizes(t *testing.T) {
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)

	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: sampleCSV})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if got := result.Results; got.Inserted != 2 || got.Skipped != 0 || got.Errors != 0 {
		t.Fatalf("counts = %+v, want 2 inserted", got)
	}

	if fs.clientCalls != 1 || fs.orderCalls != 1 {
		t.Fatalf("calls = %d clients, %d orders, want 1 each", fs.clientCalls, fs.orderCalls)
	}
	if len(fs.runs) != 1 {
		t.Fatalf("runs persisted = %d, want 1", len(fs.runs))
	}
	if fs.runs[0].Inserted != 2 || fs.runs[0].Status != "completed" {
		t.Errorf("run row = %+v, want inserted=2 completed", fs.runs[0])
	}
	if len(fs.rowResults) == 0 {
		t.Error("expected per-row results to be persisted")
	}

	// Jane's phone normalized, Bob with no install date suppresses scheduling.
	if _, ok := fs.inserted["OCT-1001"]; !ok {
		t.Error("OCT-1001 not inserted")
	}
	if _, ok := fs.inserted["OCT-1002"]; !ok {
		t.Error("OCT-1002 not inserted")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)
	ctx := context.Background()

	first, err := r.Run(ctx, Request{ProfileID: fs.profile.ID, CSVData: sampleCSV})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Results.Inserted != 2 {
		t.Fatalf("first run inserted = %d, want 2", first.Results.Inserted)
	}

	// The second run sees what the first committed.
	for id := range fs.inserted {
		fs.existing[id] = uuid.New()
	}

	second, err := r.Run(ctx, Request{ProfileID: fs.profile.ID, CSVData: sampleCSV})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	got := second.Results
	if got.Inserted != 0 || got.Skipped != 2 || got.Duplicates != 2 || got.Errors != 0 {
		t.Fatalf("second run counts = %+v, want 2 skipped duplicates", got)
	}
	for _, d := range second.Details.Skipped {
		if d.Message != "order already exists" {
			t.Errorf("skip message = %q", d.Message)
		}
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)

	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: sampleCSV, DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Results.Inserted != 2 {
		t.Fatalf("dry run inserted count = %d, want 2", result.Results.Inserted)
	}
	if fs.clientCalls != 0 || fs.orderCalls != 0 || len(fs.runs) != 0 || len(fs.rowResults) != 0 {
		t.Fatalf("dry run wrote to the store: %d client calls, %d order calls, %d runs", fs.clientCalls, fs.orderCalls, len(fs.runs))
	}
	if result.RunID == uuid.Nil {
		t.Error("dry run should still carry a run id")
	}
}

func TestRunSkipsUnusableRows(t *testing.T) {
	csvData := `Job ID,Customer,Email
,Jane Smith,jane@example.com
OCT-2001,,
OCT-2002,Bob Jones,bob@example.com
OCT-2002,Bob Jones,bob@example.com
`
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)

	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: csvData})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := result.Results
	if got.Inserted != 1 || got.Skipped != 3 || got.Duplicates != 1 {
		t.Fatalf("counts = %+v, want 1 inserted, 3 skipped, 1 duplicate", got)
	}
	if len(result.Details.Skipped) != 3 {
		t.Fatalf("skip details = %d, want 3 (no row may vanish silently)", len(result.Details.Skipped))
	}
}

func TestRunJobIDFilter(t *testing.T) {
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)

	result, err := r.Run(context.Background(), Request{
		ProfileID:    fs.profile.ID,
		CSVData:      sampleCSV,
		JobIDsFilter: []string{"OCT-1002"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := result.Results; got.Inserted != 1 || got.Skipped != 1 {
		t.Fatalf("counts = %+v, want 1 inserted, 1 filtered out", got)
	}
	if _, ok := fs.inserted["OCT-1001"]; ok {
		t.Error("OCT-1001 inserted despite filter")
	}
}

func TestRunMalformedCellsBecomeWarnings(t *testing.T) {
	csvData := `Job ID,Customer,Email,Phone,Price,Duration,Status
OCT-3001,Jane Smith,jane@example.com,12345,free,half a day,mystery
`
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)

	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: csvData})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := result.Results
	if got.Inserted != 1 || got.Errors != 0 {
		t.Fatalf("counts = %+v, want the row inserted despite bad cells", got)
	}
	// Bad phone, bad amount, bad duration, unmapped status, plus the
	// unmapped header columns from the profile.
	fieldsWarned := map[string]bool{}
	for _, w := range result.Details.Warnings {
		if w.Field != "" {
			fieldsWarned[w.Field] = true
		}
	}
	for _, field := range []string{fieldClientPhone, fieldAmount, fieldDuration, fieldStatus} {
		if !fieldsWarned[field] {
			t.Errorf("expected a warning for %s, got %v", field, result.Details.Warnings)
		}
	}
}

func TestRunBatchFailureIsIsolated(t *testing.T) {
	var b strings.Builder
	b.WriteString("Job ID,Customer,Email\n")
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "OCT-%d,Client %d,client%d@example.com\n", 4000+i, i, i)
	}

	fs := newFakeStore()
	fs.orderErrOn = 1
	r := newTestReconciler(fs, 2)

	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: b.String()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := result.Results
	if got.Errors != 2 || got.Inserted != 2 {
		t.Fatalf("counts = %+v, want first batch errored and second inserted", got)
	}
	if len(fs.runs) != 1 || fs.runs[0].Status != "completed_with_errors" {
		t.Fatalf("run status = %v, want completed_with_errors", fs.runs)
	}
}

func TestRunStatusAndEngineerMapping(t *testing.T) {
	engineerID := uuid.New()
	fs := newFakeStore()
	fs.engineers = []store.Engineer{{ID: engineerID, Name: "Sam Patel", IsActive: true}}
	fs.profile.EngineerMapping = map[string]string{"SP": engineerID.String()}
	fs.profile.ColumnMapping = map[string]string{
		fieldExternalID:  "Job ID",
		fieldClientName:  "Customer",
		fieldClientEmail: "Email",
		fieldEngineer:    "Engineer",
		fieldStatus:      "Status",
		fieldJobType:     "Type",
	}

	csvData := `Job ID,Customer,Email,Engineer,Status,Type
OCT-5001,Jane Smith,jane@example.com,sam patel,confirmed,standard
OCT-5002,Bob Jones,bob@example.com,SP,done,standard
`
	r := newTestReconciler(fs, 500)
	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: csvData})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Results.Inserted != 2 {
		t.Fatalf("counts = %+v", result.Results)
	}
	if result.Results.Warnings != 0 {
		t.Fatalf("warnings = %v, want none", result.Details.Warnings)
	}
}

func TestRunProfileErrors(t *testing.T) {
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)
	ctx := context.Background()

	if _, err := r.Run(ctx, Request{ProfileID: uuid.New(), CSVData: sampleCSV}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("unknown profile: err = %v, want ErrProfileNotFound", err)
	}

	fs.profile.IsActive = false
	if _, err := r.Run(ctx, Request{ProfileID: fs.profile.ID, CSVData: sampleCSV}); !errors.Is(err, ErrProfileInactive) {
		t.Errorf("inactive profile: err = %v, want ErrProfileInactive", err)
	}

	fs.profile.IsActive = true
	fs.partner.IsActive = false
	if _, err := r.Run(ctx, Request{ProfileID: fs.profile.ID, CSVData: sampleCSV}); !errors.Is(err, ErrPartnerInactive) {
		t.Errorf("inactive partner: err = %v, want ErrPartnerInactive", err)
	}
}

func TestRunSheetFetchFailure(t *testing.T) {
	fs := newFakeStore()
	spreadsheetID, sheetName := "sheet-abc", "Jobs"
	fs.profile.SpreadsheetID = &spreadsheetID
	fs.profile.SheetName = &sheetName

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(fs, &fakeSheets{err: errors.New("upstream 503")}, logger, 500)

	if _, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID}); !errors.Is(err, ErrSheetFetch) {
		t.Errorf("err = %v, want ErrSheetFetch", err)
	}
	if len(fs.runs) != 0 {
		t.Error("failed fetch must not persist a run")
	}
}

func TestRunEmptySheetIsNoOp(t *testing.T) {
	fs := newFakeStore()
	r := newTestReconciler(fs, 500)

	result, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: "Job ID,Customer,Email\n"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || result.Results != (Counts{}) {
		t.Fatalf("result = %+v, want empty success", result.Results)
	}
	if len(fs.runs) != 0 {
		t.Error("empty run must not be persisted")
	}
}

func TestRunDefaultDurationAppliedOnInsert(t *testing.T) {
	var captured []store.OrderInsert
	fs := newFakeStore()

	csvData := `Job ID,Customer,Email,Type,Duration
OCT-6001,Jane Smith,jane@example.com,standard,
OCT-6002,Bob Jones,bob@example.com,standard,4:30
`
	wrapped := &captureStore{fakeStore: fs, orders: &captured}
	r := New(wrapped, &fakeSheets{}, slog.New(slog.NewTextHandler(io.Discard, nil)), 500)

	if _, err := r.Run(context.Background(), Request{ProfileID: fs.profile.ID, CSVData: csvData}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	byID := map[string]store.OrderInsert{}
	for _, o := range captured {
		byID[o.ExternalID] = o
	}
	if o := byID["OCT-6001"]; o.DurationHours == nil || *o.DurationHours != 3 {
		t.Errorf("OCT-6001 duration = %v, want profile default 3", o.DurationHours)
	}
	if o := byID["OCT-6002"]; o.DurationHours == nil || *o.DurationHours != 4.5 {
		t.Errorf("OCT-6002 duration = %v, want 4.5", o.DurationHours)
	}
	if o := byID["OCT-6001"]; !o.SuppressScheduling {
		t.Error("OCT-6001 has no install date, scheduling should be suppressed")
	}
}

type captureStore struct {
	*fakeStore
	orders *[]store.OrderInsert
}

func (c *captureStore) BulkInsertOrders(ctx context.Context, batch []store.OrderInsert) ([]store.OrderInsertResult, error) {
	*c.orders = append(*c.orders, batch...)
	return c.fakeStore.BulkInsertOrders(ctx, batch)
}
