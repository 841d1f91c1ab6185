package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voltops-platform/api/internal/auth"
	"github.com/voltops-platform/api/internal/config"
	"github.com/voltops-platform/api/internal/store"
)

const testCSV = `Job ID,Customer,Email,Phone,Install Date,Price,Type,Status,Duration
VO-1001,Jane Smith,jane@example.com,+44 7700 900123,25/12/2026,£850.00,standard,confirmed,4:30
VO-1002,Bob Jones,bob@example.com,,TBC,£1200,standard,,
`

func TestImportRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	seedUser(t, ctx, env.pool, "ops@example.com", "Password123!",
		[]string{"imports.run", "imports.read", "orders.read"})
	profileID := seedPartnerProfile(t, ctx, env.pool)

	cookie := login(t, env.router, "ops@example.com", "Password123!")
	csrf := csrfToken(t, env.router, cookie)

	runImport := func(dryRun bool) map[string]any {
		payload, _ := json.Marshal(map[string]any{
			"profile_id": profileID,
			"dry_run":    dryRun,
			"csv_data":   testCSV,
		})
		status, body := request(t, env.router, http.MethodPost, "/api/imports/partner", payload, cookie, csrf)
		if status != http.StatusOK {
			t.Fatalf("import expected 200, got %d (%s)", status, string(body))
		}
		var result map[string]any
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("parse import result: %v", err)
		}
		return result
	}

	counts := func(result map[string]any) map[string]float64 {
		raw, _ := result["results"].(map[string]any)
		out := map[string]float64{}
		for k, v := range raw {
			if f, ok := v.(float64); ok {
				out[k] = f
			}
		}
		return out
	}

	// Dry run predicts the outcome and writes nothing.
	dry := counts(runImport(true))
	if dry["inserted"] != 2 {
		t.Fatalf("dry run counts = %v, want 2 inserted", dry)
	}
	var orderCount int
	if err := env.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&orderCount); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("dry run wrote %d orders", orderCount)
	}

	// Real run commits the same counts.
	first := runImport(false)
	if c := counts(first); c["inserted"] != 2 || c["errors"] != 0 {
		t.Fatalf("first run counts = %v, want 2 inserted", c)
	}

	// Second submission of the same file is fully skipped.
	second := counts(runImport(false))
	if second["inserted"] != 0 || second["skipped"] != 2 || second["duplicates"] != 2 {
		t.Fatalf("second run counts = %v, want 2 skipped duplicates", second)
	}

	runID, _ := first["run_id"].(string)
	if runID == "" {
		t.Fatal("first run has no run_id")
	}
	status, body := request(t, env.router, http.MethodGet, "/api/imports/"+runID, nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("get run expected 200, got %d (%s)", status, string(body))
	}
	status, body = request(t, env.router, http.MethodGet, "/api/imports/"+runID+"/errors.csv", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("errors.csv expected 200, got %d", status)
	}
	if !strings.HasPrefix(string(body), "row,severity,result") {
		t.Fatalf("errors.csv header missing: %q", string(body)[:min(len(body), 60)])
	}
}

func TestImportRBACAndValidation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	seedUser(t, ctx, env.pool, "viewer@example.com", "Password123!", []string{"imports.read"})
	seedUser(t, ctx, env.pool, "runner@example.com", "Password123!", []string{"imports.run"})

	cookie := login(t, env.router, "viewer@example.com", "Password123!")
	csrf := csrfToken(t, env.router, cookie)
	payload, _ := json.Marshal(map[string]any{"profile_id": uuid.New(), "csv_data": testCSV})

	status, _ := request(t, env.router, http.MethodPost, "/api/imports/partner", payload, cookie, csrf)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for missing imports.run, got %d", status)
	}

	runnerCookie := login(t, env.router, "runner@example.com", "Password123!")
	runnerCsrf := csrfToken(t, env.router, runnerCookie)

	status, _ = request(t, env.router, http.MethodPost, "/api/imports/partner", payload, runnerCookie, runnerCsrf)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown profile, got %d", status)
	}

	// CSRF header is mandatory on mutating routes.
	status, _ = request(t, env.router, http.MethodPost, "/api/imports/partner", payload, runnerCookie, "")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", status)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	seedUser(t, ctx, env.pool, "session@example.com", "Password123!", []string{"imports.read"})

	cookie := login(t, env.router, "session@example.com", "Password123!")
	status, _ := request(t, env.router, http.MethodGet, "/api/auth/me", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", status)
	}

	csrf := csrfToken(t, env.router, cookie)
	status, _ = request(t, env.router, http.MethodPost, "/api/auth/logout", nil, cookie, csrf)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 logout response, got %d", status)
	}

	status, _ = request(t, env.router, http.MethodGet, "/api/auth/me", nil, cookie, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestExportsClientsCSV(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	seedUser(t, ctx, env.pool, "exporter@example.com", "Password123!",
		[]string{"imports.run", "exports.read"})
	profileID := seedPartnerProfile(t, ctx, env.pool)

	cookie := login(t, env.router, "exporter@example.com", "Password123!")
	csrf := csrfToken(t, env.router, cookie)

	payload, _ := json.Marshal(map[string]any{"profile_id": profileID, "csv_data": testCSV})
	status, body := request(t, env.router, http.MethodPost, "/api/imports/partner", payload, cookie, csrf)
	if status != http.StatusOK {
		t.Fatalf("import expected 200, got %d (%s)", status, string(body))
	}

	status, body = request(t, env.router, http.MethodGet, "/api/exports/clients.csv", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("export expected 200, got %d", status)
	}
	if !strings.Contains(string(body), "jane@example.com") {
		t.Fatalf("export missing imported client: %q", string(body))
	}
	// Phone came in as +44 and must be exported in national format.
	if !strings.Contains(string(body), "07700900123") {
		t.Fatalf("export missing normalized phone: %q", string(body))
	}
}

type testEnv struct {
	pool   *pgxpool.Pool
	router http.Handler
}

func setupTestEnv(t *testing.T) testEnv {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	// The router loads openapi.yaml and resetSchema loads migrations, both
	// relative to the repo root.
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(filepath.Join("..", "..")); err != nil {
		t.Fatalf("chdir repo root: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect test db: %v", err)
	}
	t.Cleanup(pool.Close)

	resetSchema(t, ctx, pool)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		Addr:              ":0",
		DatabaseURL:       databaseURL,
		SessionCookieName: "vo_sess",
		SessionTTL:        12 * time.Hour,
		SecureCookies:     false,
		CSRFEnforce:       true,
		Env:               "test",
		ImportMaxRows:     5000,
		ImportBatchSize:   500,
	}

	router, err := NewRouter(cfg, store.New(pool), logger)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	return testEnv{pool: pool, router: router}
}

func resetSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	if _, err := pool.Exec(ctx, `DROP SCHEMA public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	sqlBytes, err := os.ReadFile(filepath.Join("migrations", "00001_init.sql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	schema := string(sqlBytes)
	if idx := strings.Index(schema, "-- +goose Down"); idx >= 0 {
		schema = schema[:idx]
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func seedUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, email, password string, permissions []string) uuid.UUID {
	t.Helper()

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	var userID uuid.UUID
	if err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id
	`, email, "Test User", passwordHash).Scan(&userID); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	var roleID uuid.UUID
	if err := pool.QueryRow(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, 'test role') RETURNING id
	`, "role-"+email).Scan(&roleID); err != nil {
		t.Fatalf("insert role: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
	`, userID, roleID); err != nil {
		t.Fatalf("insert user role: %v", err)
	}

	for _, perm := range permissions {
		if _, err := pool.Exec(ctx, `
			INSERT INTO permissions (name, description)
			VALUES ($1, '')
			ON CONFLICT (name) DO NOTHING
		`, perm); err != nil {
			t.Fatalf("insert permission: %v", err)
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, p.id FROM permissions p WHERE p.name = $2
		`, roleID, perm); err != nil {
			t.Fatalf("insert role permission: %v", err)
		}
	}
	return userID
}

func seedPartnerProfile(t *testing.T, ctx context.Context, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()

	var partnerID uuid.UUID
	if err := pool.QueryRow(ctx, `
		INSERT INTO partners (name, slug, is_active)
		VALUES ('OctoCharge', 'octocharge', TRUE)
		RETURNING id
	`).Scan(&partnerID); err != nil {
		t.Fatalf("insert partner: %v", err)
	}

	var profileID uuid.UUID
	if err := pool.QueryRow(ctx, `
		INSERT INTO import_profiles (partner_id, name, is_active, column_mapping, status_mapping, default_durations)
		VALUES ($1, 'Weekly jobs', TRUE, $2, $3, $4)
		RETURNING id
	`, partnerID,
		`{"external_id":"Job ID","client_name":"Customer","client_email":"Email","client_phone":"Phone","install_date":"Install Date","amount":"Price","job_type":"Type","status":"Status","duration":"Duration"}`,
		`{"confirmed":"scheduled"}`,
		`{"standard":3}`,
	).Scan(&profileID); err != nil {
		t.Fatalf("insert import profile: %v", err)
	}
	return profileID
}

func login(t *testing.T, router http.Handler, email, password string) *http.Cookie {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:12345"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		body, _ := io.ReadAll(rec.Result().Body)
		t.Fatalf("login expected 200, got %d with body: %s", rec.Code, string(body))
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == "vo_sess" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func csrfToken(t *testing.T, router http.Handler, session *http.Cookie) string {
	t.Helper()
	status, body := request(t, router, http.MethodGet, "/api/auth/csrf", nil, session, "")
	if status != http.StatusOK {
		t.Fatalf("csrf expected 200, got %d (%s)", status, string(body))
	}
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("parse csrf body: %v", err)
	}
	return payload["csrfToken"]
}

func request(t *testing.T, router http.Handler, method, path string, body []byte, session *http.Cookie, csrf string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.AddCookie(session)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	resBody, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, resBody
}
