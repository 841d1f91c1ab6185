package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/voltops-platform/api/internal/auth"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	email := envOrDefault("SEED_ADMIN_EMAIL", "admin@local.voltops")
	password := envOrDefault("SEED_ADMIN_PASSWORD", "Admin12345!")
	fullName := envOrDefault("SEED_ADMIN_NAME", "Local Admin")
	partnerSlug := envOrDefault("SEED_PARTNER_SLUG", "octocharge")
	partnerName := envOrDefault("SEED_PARTNER_NAME", "OctoCharge")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback(ctx)

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO users (email, full_name, password_hash, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT DO NOTHING
	`, email, fullName, passwordHash)
	if err != nil {
		log.Fatalf("insert user: %v", err)
	}

	var userID uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT id FROM users WHERE lower(email) = lower($1)
	`, email).Scan(&userID); err != nil {
		log.Fatalf("find user: %v", err)
	}

	permissionDescriptions := map[string]string{
		"clients.read":   "Read client records",
		"clients.write":  "Create and update client records",
		"orders.read":    "Read installation orders",
		"orders.write":   "Update installation orders",
		"partners.read":  "Read partners and engineers",
		"profiles.read":  "Read import profiles",
		"profiles.write": "Create and update import profiles",
		"imports.run":    "Run partner imports",
		"imports.read":   "Read import runs and reports",
		"exports.read":   "Download CSV exports",
	}

	for perm, description := range permissionDescriptions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO permissions (name, description)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		`, perm, description); err != nil {
			log.Fatalf("insert permission: %v", err)
		}
	}

	roles := map[string]struct {
		description string
		permissions []string
	}{
		"admin": {
			description: "Back office administrator",
			permissions: []string{
				"clients.read", "clients.write", "orders.read", "orders.write",
				"partners.read", "profiles.read", "profiles.write",
				"imports.run", "imports.read", "exports.read",
			},
		},
		"ops": {
			description: "Operations role",
			permissions: []string{
				"clients.read", "orders.read", "orders.write", "partners.read",
				"profiles.read", "imports.run", "imports.read", "exports.read",
			},
		},
		"viewer": {
			description: "Read-only role",
			permissions: []string{"clients.read", "orders.read", "partners.read", "imports.read"},
		},
	}

	roleIDs := make(map[string]uuid.UUID, len(roles))
	for roleName, role := range roles {
		var roleID uuid.UUID
		if err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, description)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
			RETURNING id
		`, roleName, role.description).Scan(&roleID); err != nil {
			log.Fatalf("upsert role %s: %v", roleName, err)
		}
		roleIDs[roleName] = roleID

		for _, perm := range role.permissions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				SELECT $1, p.id FROM permissions p WHERE p.name = $2
				ON CONFLICT DO NOTHING
			`, roleID, perm); err != nil {
				log.Fatalf("insert role permission: %v", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, roleIDs["admin"]); err != nil {
		log.Fatalf("insert user role: %v", err)
	}

	var partnerID uuid.UUID
	if err := tx.QueryRow(ctx, `
		INSERT INTO partners (slug, name, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, partnerSlug, partnerName).Scan(&partnerID); err != nil {
		log.Fatalf("upsert partner: %v", err)
	}

	engineers := []struct{ name, email string }{
		{"Sam Patel", "sam.patel@local.voltops"},
		{"Alex Murray", "alex.murray@local.voltops"},
	}
	for _, e := range engineers {
		if _, err := tx.Exec(ctx, `
			INSERT INTO engineers (name, email, is_active)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		`, e.name, e.email); err != nil {
			log.Fatalf("insert engineer %s: %v", e.name, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO import_profiles (
			partner_id, name, is_active,
			column_mapping, status_mapping, default_durations
		)
		VALUES ($1, $2, TRUE, $3, $4, $5)
		ON CONFLICT (partner_id, name) DO NOTHING
	`, partnerID, "Weekly jobs export",
		`{"external_id":"Job ID","client_name":"Customer","client_email":"Email","client_phone":"Phone","address":"Address","postcode":"Postcode","install_date":"Install Date","engineer":"Engineer","amount":"Price","job_type":"Type","status":"Status","duration":"Duration"}`,
		`{"confirmed":"scheduled","done":"completed","cancelled":"cancelled"}`,
		`{"standard":3,"complex":6}`,
	); err != nil {
		log.Fatalf("insert import profile: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("commit tx: %v", err)
	}

	fmt.Printf("Seed completed. Partner=%s, admin=%s, password=%s\n", partnerSlug, email, password)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
