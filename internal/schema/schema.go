// Package schema creates and upgrades the database tables.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id BIGSERIAL PRIMARY KEY,
        subject TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        full_name TEXT,
        role TEXT NOT NULL DEFAULT 'pending',
        approved BOOLEAN NOT NULL DEFAULT FALSE,
        permissions TEXT[] NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`ALTER TABLE accounts ADD COLUMN IF NOT EXISTS email_verified BOOLEAN NOT NULL DEFAULT FALSE`,
	`CREATE TABLE IF NOT EXISTS pallets (
        id BIGSERIAL PRIMARY KEY,
        code TEXT NOT NULL UNIQUE,
        location TEXT,
        status TEXT NOT NULL DEFAULT 'open',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS packages (
        id BIGSERIAL PRIMARY KEY,
        tracking_number TEXT NOT NULL UNIQUE,
        carrier TEXT,
        recipient TEXT,
        weight_grams INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'expected',
        pallet_id BIGINT REFERENCES pallets(id) ON DELETE SET NULL,
        received_at TIMESTAMPTZ,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE INDEX IF NOT EXISTS packages_status_created_idx ON packages (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS receipts (
        id BIGSERIAL PRIMARY KEY,
        dock TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'open',
        opened_by TEXT NOT NULL,
        opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        closed_at TIMESTAMPTZ
    )`,
	`CREATE TABLE IF NOT EXISTS receipt_items (
        id BIGSERIAL PRIMARY KEY,
        receipt_id BIGINT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
        package_id BIGINT NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
        pallet_id BIGINT REFERENCES pallets(id) ON DELETE SET NULL,
        condition TEXT NOT NULL,
        scanned_by TEXT NOT NULL,
        scanned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE (receipt_id, package_id)
    )`,
	`CREATE TABLE IF NOT EXISTS feedback (
        id UUID PRIMARY KEY,
        kind TEXT NOT NULL,
        subject TEXT NOT NULL,
        message TEXT NOT NULL,
        page TEXT,
        severity TEXT,
        status TEXT NOT NULL DEFAULT 'open',
        submitted_by TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        resolved_by TEXT,
        resolved_at TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS feedback_kind_created_idx ON feedback (kind, created_at DESC)`,
}

// Ensure applies every statement in order. Statements are idempotent so
// Ensure can run on each start.
func Ensure(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema: statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// SeedSuperAdmins provisions approved super admin accounts for the
// configured emails. Existing accounts are promoted.
func SeedSuperAdmins(ctx context.Context, pool *pgxpool.Pool, emails []string) error {
	batch := &pgx.Batch{}
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		batch.Queue(`INSERT INTO accounts (subject, email, role, approved)
         VALUES ('', $1, 'super_admin', TRUE)
         ON CONFLICT (email) DO UPDATE SET role = 'super_admin', approved = TRUE, updated_at = NOW()`, email)
	}
	if batch.Len() == 0 {
		return nil
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("schema: seed super admin: %w", err)
		}
	}
	return nil
}

// Tables lists the tables Ensure creates, children before parents.
func Tables() []string {
	return []string{"receipt_items", "receipts", "feedback", "packages", "pallets", "accounts"}
}
