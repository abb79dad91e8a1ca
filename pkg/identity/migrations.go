package identity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/peregrinehq/stacks/pkg/database"
)

// Migrations returns the identity schema migrations
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					identity_key VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					password_hash VARCHAR(255) NOT NULL DEFAULT '',
					tier VARCHAR(32) NOT NULL DEFAULT 'standard',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_identity_key ON users(identity_key);
				CREATE INDEX idx_users_tier ON users(tier);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX idx_roles_name ON roles(name);
				CREATE INDEX idx_role_permissions_role_id ON role_permissions(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, role_id)
				);

				CREATE INDEX idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
	}
}

// RunMigrations applies the identity schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return database.RunMigrations(ctx, db, "identity_migrations", Migrations())
}

// SeedReservedUsers ensures the two break-glass identities exist with
// their reserved tiers. Runs at startup; safe to call repeatedly.
func SeedReservedUsers(ctx context.Context, store *Store) error {
	for _, key := range []string{reservedAdminKey, reservedSuperAdminKey} {
		_, err := store.GetUserByIdentityKey(ctx, key)
		if err == nil {
			continue
		}
		user := &User{
			IdentityKey: key,
			DisplayName: key,
			Tier:        ReservedTier(key),
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to seed reserved user %s: %w", key, err)
		}
	}
	return nil
}
