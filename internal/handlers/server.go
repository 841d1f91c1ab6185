package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/voltops-platform/api/internal/audit"
	"github.com/voltops-platform/api/internal/auth"
	"github.com/voltops-platform/api/internal/config"
	"github.com/voltops-platform/api/internal/httpx"
	"github.com/voltops-platform/api/internal/importer"
	"github.com/voltops-platform/api/internal/middleware"
	"github.com/voltops-platform/api/internal/store"
)

// ImportRunner is the slice of the reconciler the HTTP layer needs.
type ImportRunner interface {
	Run(ctx context.Context, req importer.Request) (importer.Result, error)
}

type Server struct {
	Config   config.Config
	Store    *store.Store
	Audit    *audit.Logger
	Importer ImportRunner
	Logger   *slog.Logger
}

func NewServer(cfg config.Config, st *store.Store, auditLogger *audit.Logger, runner ImportRunner, logger *slog.Logger) *Server {
	return &Server{Config: cfg, Store: st, Audit: auditLogger, Importer: runner, Logger: logger}
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

type userPayload struct {
	ID       uuid.UUID           `json:"id"`
	Email    openapi_types.Email `json:"email"`
	FullName string              `json:"fullName"`
}

type authSessionResponse struct {
	User userPayload `json:"user"`
}

func (s *Server) PostAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}

	users, err := s.Store.ListUsersByEmail(r.Context(), string(req.Email))
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load user", nil)
		return
	}

	var matched *store.User
	for i := range users {
		user := users[i]
		if !user.IsActive {
			continue
		}
		ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil {
			httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Password verification failed", nil)
			return
		}
		if ok {
			matched = &user
			break
		}
	}

	if matched == nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}

	if old, err := r.Cookie(s.Config.SessionCookieName); err == nil && old.Value != "" {
		_ = s.Store.RevokeSessionByTokenHash(r.Context(), auth.HashToken(old.Value))
	}

	sessionToken, err := auth.GenerateToken()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create session", nil)
		return
	}
	csrfToken, err := auth.GenerateToken()
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create CSRF token", nil)
		return
	}

	if _, err := s.Store.CreateSession(r.Context(), store.CreateSessionParams{
		UserID:    matched.ID,
		TokenHash: auth.HashToken(sessionToken),
		CsrfToken: csrfToken,
		ExpiresAt: time.Now().Add(s.Config.SessionTTL),
	}); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to save session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		Expires:  time.Now().Add(s.Config.SessionTTL),
	})

	userID := matched.ID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		UserID:     &userID,
		Action:     "auth.login",
		EntityType: "session",
		RequestID:  middleware.RequestIDFromContext(r.Context()),
	})

	httpx.WriteJSON(w, http.StatusOK, authSessionResponse{
		User: userPayload{
			ID:       matched.ID,
			Email:    openapi_types.Email(matched.Email),
			FullName: matched.FullName,
		},
	})
}

func (s *Server) PostAuthLogout(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return
	}

	sessionID, err := uuid.Parse(actor.SessionID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid session", nil)
		return
	}

	if err := s.Store.RevokeSessionByID(r.Context(), sessionID); err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to revoke session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		MaxAge:   -1,
	})

	if userID, err := uuid.Parse(actor.UserID); err == nil {
		_ = s.Audit.Log(r.Context(), audit.Entry{
			UserID:     &userID,
			Action:     "auth.logout",
			EntityType: "session",
			RequestID:  middleware.RequestIDFromContext(r.Context()),
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetAuthMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return
	}

	userID, err := uuid.Parse(actor.UserID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid user", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authSessionResponse{
		User: userPayload{
			ID:       userID,
			Email:    openapi_types.Email(actor.Email),
			FullName: actor.FullName,
		},
	})
}

func (s *Server) GetAuthCsrf(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": actor.CSRFToken})
}

// actorUserID extracts the caller's user id for audit attribution.
func actorUserID(r *http.Request) *uuid.UUID {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return nil
	}
	id, err := uuid.Parse(actor.UserID)
	if err != nil {
		return nil
	}
	return &id
}

func parseLimitOffset(r *http.Request) (int, int) {
	limit, offset := 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
