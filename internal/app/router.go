package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	openapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/config"
	"github.com/voltops-platform/api/internal/handlers"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/importer"
	"github.com/voltops-platform/api/internal/middleware"
	"github.com/voltops-platform/api/internal/sheets"
	"github.com/voltops-platform/api/internal/store"
)

func NewRouter(cfg config.Config, st *store.Store, logger *slog.Logger) (http.Handler, error) {
	specPath := filepath.Join("openapi.yaml")
	if _, err := os.Stat(specPath); err != nil {
		return nil, fmt.Errorf("openapi spec not found at %s: %w", specPath, err)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.LimitBodyBytesWithOverrides(cfg.APIMaxBodyBytes, []middleware.BodyLimitOverride{
		{PathPrefix: "/imports", MaxBytes: cfg.ImportMaxBodyBytes},
	}))

	api := chi.NewRouter()
	api.Use(openapimiddleware.OapiRequestValidatorWithOptions(doc, &openapimiddleware.Options{
		SilenceServersWarning: true,
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			requestID := w.Header().Get("X-Request-Id")
			httpx.WriteJSON(w, statusCode, httpx.ErrorEnvelope{
				Error:     httpx.ErrorBody{Code: "validation_error", Message: message},
				RequestID: requestID,
			})
		},
	}))

	auditLogger := audit.NewLogger(st)
	sheetClient := sheets.NewClient(cfg.SheetFetchURL, cfg.SheetFetchToken, cfg.SheetFetchTimeout)
	reconciler := importer.New(st, sheetClient, logger, cfg.ImportBatchSize)
	h := handlers.NewServer(cfg, st, auditLogger, reconciler, logger)

	authMW := middleware.AuthMiddleware{Store: st, CookieName: cfg.SessionCookieName}
	loginLimiter := middleware.NewIPRateLimiterWithMaxEntries(10, time.Minute, cfg.RateLimitMaxIPs)

	api.Group(func(public chi.Router) {
		public.With(loginLimiter.Middleware("Too many login attempts")).Post("/auth/login", h.PostAuthLogin)
		public.Get("/health", h.GetHealth)
	})

	api.Group(func(protected chi.Router) {
		protected.Use(authMW.RequireAuth)
		protected.Get("/auth/me", h.GetAuthMe)
		protected.Get("/auth/csrf", h.GetAuthCsrf)
		protected.With(middleware.EnforceCSRF(cfg.CSRFEnforce)).Post("/auth/logout", h.PostAuthLogout)

		protected.With(
			middleware.RequirePermission(st, "clients.read"),
		).Get("/clients", h.GetClients)
		protected.With(
			middleware.RequirePermission(st, "clients.read"),
		).Get("/clients/{id}", h.GetClientsID)
		protected.With(
			middleware.RequirePermission(st, "clients.write"),
			middleware.EnforceCSRF(cfg.CSRFEnforce),
		).Post("/clients", h.PostClients)

		protected.With(
			middleware.RequirePermission(st, "orders.read"),
		).Get("/orders", h.GetOrders)
		protected.With(
			middleware.RequirePermission(st, "orders.read"),
		).Get("/orders/{id}", h.GetOrdersID)
		protected.With(
			middleware.RequirePermission(st, "orders.write"),
			middleware.EnforceCSRF(cfg.CSRFEnforce),
		).Post("/orders", h.PostOrders)
		protected.With(
			middleware.RequirePermission(st, "orders.write"),
			middleware.EnforceCSRF(cfg.CSRFEnforce),
		).Patch("/orders/{id}", h.PatchOrdersID)

		protected.With(
			middleware.RequirePermission(st, "partners.read"),
		).Get("/partners", h.GetPartners)
		protected.With(
			middleware.RequirePermission(st, "partners.read"),
		).Get("/engineers", h.GetEngineers)

		protected.With(
			middleware.RequirePermission(st, "profiles.read"),
		).Get("/import-profiles", h.GetImportProfiles)
		protected.With(
			middleware.RequirePermission(st, "profiles.read"),
		).Get("/import-profiles/{id}", h.GetImportProfilesID)
		protected.With(
			middleware.RequirePermission(st, "profiles.write"),
			middleware.EnforceCSRF(cfg.CSRFEnforce),
		).Post("/import-profiles", h.PostImportProfiles)
		protected.With(
			middleware.RequirePermission(st, "profiles.write"),
			middleware.EnforceCSRF(cfg.CSRFEnforce),
		).Patch("/import-profiles/{id}", h.PatchImportProfilesID)

		protected.With(
			middleware.RequirePermission(st, "imports.run"),
			middleware.EnforceCSRF(cfg.CSRFEnforce),
		).Post("/imports/partner", h.PostImportsPartner)
		protected.With(
			middleware.RequirePermission(st, "imports.read"),
		).Get("/imports", h.GetImports)
		protected.With(
			middleware.RequirePermission(st, "imports.read"),
		).Get("/imports/{id}", h.GetImportsID)
		protected.With(
			middleware.RequirePermission(st, "imports.read"),
		).Get("/imports/{id}/report.json", h.GetImportsIDReport)
		protected.With(
			middleware.RequirePermission(st, "imports.read"),
		).Get("/imports/{id}/errors.csv", h.GetImportsIDErrors)

		protected.With(
			middleware.RequirePermission(st, "exports.read"),
		).Get("/exports/clients.csv", h.GetExportsClientsCSV)
		protected.With(
			middleware.RequirePermission(st, "exports.read"),
		).Get("/exports/orders.csv", h.GetExportsOrdersCSV)
	})

	r.Mount("/api", api)
	return r, nil
}
