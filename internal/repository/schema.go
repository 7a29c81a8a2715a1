package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// referred_by deliberately has no foreign key: deleting a referrer leaves
// existing pointers dangling and readers resolve them defensively.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		lang INTEGER NOT NULL DEFAULT 0,
		referral_code CHAR(7) NOT NULL,
		referred_by UUID NULL,
		total_referrals BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT users_email_key UNIQUE (email),
		CONSTRAINT users_referral_code_key UNIQUE (referral_code),
		CONSTRAINT users_referral_code_format CHECK (referral_code ~ '^[1-9][0-9]{6}$'),
		CONSTRAINT users_total_referrals_nonneg CHECK (total_referrals >= 0),
		CONSTRAINT users_not_self_referred CHECK (referred_by IS NULL OR referred_by <> id)
	)`,
	`CREATE INDEX IF NOT EXISTS users_referred_by_idx ON users (referred_by)`,
}

// EnsureSchema creates the users table and its indexes if missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
