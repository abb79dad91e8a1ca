package access

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peregrinehq/stacks/pkg/faults"
)

// Store persists per-resource ACL rows
type Store struct {
	db *sql.DB
}

// NewStore creates a new ACL store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertTx writes a grant inside a caller's transaction, replacing any
// existing row. Used for the creation-time auto-grant so the resource
// row and its owner's full grant commit atomically.
func (s *Store) UpsertTx(ctx context.Context, tx *sql.Tx, grant *Grant) error {
	if !grant.ResourceType.Valid() {
		return faults.NewValidation("resource_type", fmt.Sprintf("unknown resource type %q", grant.ResourceType))
	}
	if grant.Empty() {
		return faults.NewValidation("grant", "auto-grant must carry at least one flag")
	}

	query := `
		INSERT INTO access_grants (resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (resource_type, resource_id, user_id)
		DO UPDATE SET can_view = $4, can_edit = $5, can_delete = $6, updated_at = $7
		RETURNING id
	`

	now := time.Now()
	err := tx.QueryRowContext(ctx, query,
		grant.ResourceType,
		grant.ResourceID,
		grant.UserID,
		grant.CanView,
		grant.CanEdit,
		grant.CanDelete,
		now,
	).Scan(&grant.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}

	grant.UpdatedAt = now
	return nil
}

// FlagPatch is a partial update to a grant's flags. Nil fields are
// left unchanged on an existing row and default to false on insert.
type FlagPatch struct {
	CanView   *bool `json:"can_view,omitempty"`
	CanEdit   *bool `json:"can_edit,omitempty"`
	CanDelete *bool `json:"can_delete,omitempty"`
}

// Grant applies a flag patch to (resourceType, resourceID, userID),
// inserting the row if it does not exist. Returns the resulting grant.
func (s *Store) Grant(ctx context.Context, resourceType ResourceType, resourceID, userID int64, patch FlagPatch) (*Grant, error) {
	if !resourceType.Valid() {
		return nil, faults.NewValidation("resource_type", fmt.Sprintf("unknown resource type %q", resourceType))
	}

	query := `
		INSERT INTO access_grants (resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at)
		VALUES ($1, $2, $3, COALESCE($4, FALSE), COALESCE($5, FALSE), COALESCE($6, FALSE), $7, $7)
		ON CONFLICT (resource_type, resource_id, user_id)
		DO UPDATE SET
			can_view = COALESCE($4, access_grants.can_view),
			can_edit = COALESCE($5, access_grants.can_edit),
			can_delete = COALESCE($6, access_grants.can_delete),
			updated_at = $7
		RETURNING id, resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at
	`

	var grant Grant
	err := s.db.QueryRowContext(ctx, query,
		resourceType, resourceID, userID,
		patch.CanView, patch.CanEdit, patch.CanDelete,
		time.Now(),
	).Scan(
		&grant.ID,
		&grant.ResourceType,
		&grant.ResourceID,
		&grant.UserID,
		&grant.CanView,
		&grant.CanEdit,
		&grant.CanDelete,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply grant: %w", err)
	}

	return &grant, nil
}

// Get returns the grant row for one user on one resource. A missing
// row is not an error; it means the user holds nothing on the resource.
func (s *Store) Get(ctx context.Context, resourceType ResourceType, resourceID, userID int64) (*Grant, error) {
	query := `
		SELECT id, resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at
		FROM access_grants
		WHERE resource_type = $1 AND resource_id = $2 AND user_id = $3
	`

	var grant Grant
	err := s.db.QueryRowContext(ctx, query, resourceType, resourceID, userID).Scan(
		&grant.ID,
		&grant.ResourceType,
		&grant.ResourceID,
		&grant.UserID,
		&grant.CanView,
		&grant.CanEdit,
		&grant.CanDelete,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return &grant, nil
}

// Revoke hard-deletes a user's grant on a resource. Revoking a grant
// that does not exist is a no-op.
func (s *Store) Revoke(ctx context.Context, resourceType ResourceType, resourceID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM access_grants WHERE resource_type = $1 AND resource_id = $2 AND user_id = $3`,
		resourceType, resourceID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

// ListForResource returns all grants on a single resource
func (s *Store) ListForResource(ctx context.Context, resourceType ResourceType, resourceID int64) ([]Grant, error) {
	query := `
		SELECT id, resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at
		FROM access_grants
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

// ListForUser returns all grants held by one user for a resource type
func (s *Store) ListForUser(ctx context.Context, resourceType ResourceType, userID int64) ([]Grant, error) {
	query := `
		SELECT id, resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at
		FROM access_grants
		WHERE resource_type = $1 AND user_id = $2
		ORDER BY resource_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, resourceType, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

// BulkReplace swaps a user's entire grant set for one resource type in
// a single transaction: every existing row for (resourceType, userID)
// is dropped and the given grants written in its place. Grants with no
// flags set are skipped rather than stored.
func (s *Store) BulkReplace(ctx context.Context, resourceType ResourceType, userID int64, grants []Grant) error {
	if !resourceType.Valid() {
		return faults.NewValidation("resource_type", fmt.Sprintf("unknown resource type %q", resourceType))
	}
	for _, grant := range grants {
		if grant.ResourceType != resourceType {
			return faults.NewValidation("grants", "mixed resource types in bulk replace")
		}
		if grant.UserID != userID {
			return faults.NewValidation("grants", "mixed user IDs in bulk replace")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM access_grants WHERE resource_type = $1 AND user_id = $2`,
		resourceType, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear grants: %w", err)
	}

	now := time.Now()
	for _, grant := range grants {
		if grant.Empty() {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO access_grants (resource_type, resource_id, user_id, can_view, can_edit, can_delete, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, resourceType, grant.ResourceID, userID, grant.CanView, grant.CanEdit, grant.CanDelete, now)
		if err != nil {
			return fmt.Errorf("failed to write grant for resource %d: %w", grant.ResourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant replacement: %w", err)
	}
	return nil
}

func scanGrants(rows *sql.Rows) ([]Grant, error) {
	var grants []Grant
	for rows.Next() {
		var grant Grant
		err := rows.Scan(
			&grant.ID,
			&grant.ResourceType,
			&grant.ResourceID,
			&grant.UserID,
			&grant.CanView,
			&grant.CanEdit,
			&grant.CanDelete,
			&grant.CreatedAt,
			&grant.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}
