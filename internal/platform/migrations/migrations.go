// Package migrations holds the SQL schema for the postgres store. Statements
// are idempotent and applied in order on startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS app_businesses (
		id              TEXT PRIMARY KEY,
		owner_email     TEXT NOT NULL,
		company_name    TEXT NOT NULL,
		categories      JSONB,
		trust_score     BIGINT NOT NULL DEFAULT 0,
		trust_rank      TEXT NOT NULL DEFAULT 'bronze',
		total_customers BIGINT NOT NULL DEFAULT 0,
		total_referrals BIGINT NOT NULL DEFAULT 0,
		version         BIGINT NOT NULL DEFAULT 1,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS app_profiles (
		id                 TEXT PRIMARY KEY,
		user_email         TEXT NOT NULL UNIQUE,
		display_name       TEXT NOT NULL DEFAULT '',
		referral_code      TEXT NOT NULL UNIQUE,
		total_points       BIGINT NOT NULL DEFAULT 0,
		redeemed_points    BIGINT NOT NULL DEFAULT 0,
		trusted_businesses JSONB,
		version            BIGINT NOT NULL DEFAULT 1,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		CONSTRAINT app_profiles_points_non_negative CHECK (total_points >= 0 AND redeemed_points >= 0)
	)`,

	`CREATE TABLE IF NOT EXISTS app_hires (
		id               TEXT PRIMARY KEY,
		business_id      TEXT NOT NULL REFERENCES app_businesses(id),
		customer_email   TEXT NOT NULL,
		customer_name    TEXT NOT NULL DEFAULT '',
		service_category TEXT NOT NULL DEFAULT '',
		notes            TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'pending',
		hire_date        TIMESTAMPTZ NOT NULL,
		score_applied    BOOLEAN NOT NULL DEFAULT FALSE,
		version          BIGINT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS app_referrals (
		id             TEXT PRIMARY KEY,
		referrer_email TEXT NOT NULL,
		business_id    TEXT NOT NULL REFERENCES app_businesses(id),
		referral_code  TEXT NOT NULL,
		share_token    TEXT NOT NULL UNIQUE,
		share_channel  TEXT NOT NULL,
		referred_email TEXT,
		hire_id        TEXT REFERENCES app_hires(id),
		status         TEXT NOT NULL DEFAULT 'pending',
		points_awarded BIGINT NOT NULL DEFAULT 0,
		version        BIGINT NOT NULL DEFAULT 1,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS app_rewards (
		id              TEXT PRIMARY KEY,
		customer_email  TEXT NOT NULL,
		reward_name     TEXT NOT NULL,
		partner         TEXT NOT NULL DEFAULT '',
		points_cost     BIGINT NOT NULL,
		value_amount    BIGINT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		redemption_code TEXT NOT NULL UNIQUE,
		version         BIGINT NOT NULL DEFAULT 1,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_app_hires_business ON app_hires (business_id);
	 CREATE INDEX IF NOT EXISTS idx_app_hires_customer ON app_hires (customer_email);
	 CREATE INDEX IF NOT EXISTS idx_app_referrals_referrer ON app_referrals (referrer_email);
	 CREATE INDEX IF NOT EXISTS idx_app_referrals_hire ON app_referrals (hire_id);
	 CREATE INDEX IF NOT EXISTS idx_app_rewards_customer ON app_rewards (customer_email);
	 CREATE INDEX IF NOT EXISTS idx_app_rewards_status ON app_rewards (status)`,
}

// Apply runs every schema statement against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
