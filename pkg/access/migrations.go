package access

import (
	"context"
	"database/sql"

	"github.com/peregrinehq/stacks/pkg/database"
)

// Migrations returns the ACL schema migrations
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create access_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_grants (
					id BIGSERIAL PRIMARY KEY,
					resource_type VARCHAR(32) NOT NULL,
					resource_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					can_view BOOLEAN NOT NULL DEFAULT FALSE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(resource_type, resource_id, user_id)
				);

				CREATE INDEX idx_access_grants_user ON access_grants(resource_type, user_id);
				CREATE INDEX idx_access_grants_resource ON access_grants(resource_type, resource_id);
			`,
		},
	}
}

// RunMigrations applies the ACL schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return database.RunMigrations(ctx, db, "access_migrations", Migrations())
}
