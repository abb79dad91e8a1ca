package documents

import (
	"context"
	"database/sql"

	"github.com/peregrinehq/stacks/pkg/database"
)

// Migrations returns the document schema migrations
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create documents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS documents (
					id BIGSERIAL PRIMARY KEY,
					remote_id VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					content_type VARCHAR(255) NOT NULL DEFAULT '',
					byte_size BIGINT NOT NULL DEFAULT 0,
					dataset_id BIGINT NOT NULL REFERENCES datasets(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_documents_dataset_id ON documents(dataset_id);
				CREATE INDEX idx_documents_remote_id ON documents(remote_id);
			`,
		},
	}
}

// RunMigrations applies the document schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return database.RunMigrations(ctx, db, "document_migrations", Migrations())
}
