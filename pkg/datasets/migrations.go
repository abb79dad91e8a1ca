package datasets

import (
	"context"
	"database/sql"

	"github.com/peregrinehq/stacks/pkg/database"
)

// Migrations returns the dataset schema migrations. The parent foreign
// key carries no cascade: subtree deletion is an explicit depth-first
// walk so remote deletes can follow each local commit.
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create datasets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS datasets (
					id BIGSERIAL PRIMARY KEY,
					remote_id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					parent_id BIGINT REFERENCES datasets(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_datasets_parent_id ON datasets(parent_id);
				CREATE INDEX idx_datasets_remote_id ON datasets(remote_id);
			`,
		},
	}
}

// RunMigrations applies the dataset schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return database.RunMigrations(ctx, db, "dataset_migrations", Migrations())
}
