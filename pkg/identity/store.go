package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/peregrinehq/stacks/pkg/faults"
)

// Store handles identity data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser creates a new user. The tier defaults to the reserved-key
// mapping when unset, so legacy break-glass identities seed with the
// right tier without any caller knowing about the convention.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.IdentityKey == "" {
		return faults.NewValidation("identity_key", "must not be empty")
	}
	if user.Tier == "" {
		user.Tier = ReservedTier(user.IdentityKey)
	}
	if !user.Tier.Valid() {
		return faults.NewValidation("tier", fmt.Sprintf("unknown tier %q", user.Tier))
	}

	query := `
		INSERT INTO users (identity_key, display_name, email, password_hash, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		user.IdentityKey,
		user.DisplayName,
		user.Email,
		user.PasswordHash,
		user.Tier,
		now,
		now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT id, identity_key, display_name, email, password_hash, tier, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.IdentityKey,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.Tier,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, faults.NewNotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetUserByIdentityKey retrieves a user by identity key
func (s *Store) GetUserByIdentityKey(ctx context.Context, identityKey string) (*User, error) {
	query := `
		SELECT id, identity_key, display_name, email, password_hash, tier, created_at, updated_at
		FROM users
		WHERE identity_key = $1
	`

	var user User
	err := s.db.QueryRowContext(ctx, query, identityKey).Scan(
		&user.ID,
		&user.IdentityKey,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.Tier,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, faults.NewNotFound("user", 0)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// SetUserTier updates a user's account tier
func (s *Store) SetUserTier(ctx context.Context, userID int64, tier AccountTier) error {
	if !tier.Valid() {
		return faults.NewValidation("tier", fmt.Sprintf("unknown tier %q", tier))
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET tier = $1, updated_at = $2 WHERE id = $3`,
		tier, time.Now(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set user tier: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set user tier: %w", err)
	}
	if affected == 0 {
		return faults.NewNotFound("user", userID)
	}
	return nil
}

// CreateRole creates a new role with its permission links
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.Name == "" {
		return faults.NewValidation("name", "must not be empty")
	}
	for _, perm := range role.Permissions {
		if !ValidPermission(perm) {
			return faults.NewValidation("permissions", fmt.Sprintf("unknown permission %q", perm))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, role.Name, role.Description, now, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	for _, perm := range role.Permissions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE name = $2
		`, role.ID, string(perm))
		if err != nil {
			return fmt.Errorf("failed to link permission %s: %w", perm, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role with its permissions
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at,
		       COALESCE(array_agg(p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE r.id = $1
		GROUP BY r.id
	`

	var role Role
	var permNames []string
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.CreatedAt,
		&role.UpdatedAt,
		pq.Array(&permNames),
	)
	if err == sql.ErrNoRows {
		return nil, faults.NewNotFound("role", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	role.Permissions = make([]PermissionName, 0, len(permNames))
	for _, name := range permNames {
		role.Permissions = append(role.Permissions, PermissionName(name))
	}
	return &role, nil
}

// ListRoles lists all roles with their permissions
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at,
		       COALESCE(array_agg(p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		GROUP BY r.id
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var permNames []string
		err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&role.CreatedAt,
			&role.UpdatedAt,
			pq.Array(&permNames),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		for _, name := range permNames {
			role.Permissions = append(role.Permissions, PermissionName(name))
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// DeleteRole deletes a role and its links
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if affected == 0 {
		return faults.NewNotFound("role", roleID)
	}
	return nil
}

// AssignRole assigns a role to a user
func (s *Store) AssignRole(ctx context.Context, userRole *UserRole) error {
	query := `
		INSERT INTO user_roles (user_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role_id) DO NOTHING
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		userRole.UserID,
		userRole.RoleID,
		userRole.GrantedBy,
		now,
	).Scan(&userRole.ID)
	if err == sql.ErrNoRows {
		// Already assigned; not an error.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	userRole.GrantedAt = now
	return nil
}

// RevokeRole removes a role from a user
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// GetUserRoleGrants returns the roles held by a user, with the union of
// their permission names, in one query.
func (s *Store) GetUserRoleGrants(ctx context.Context, userID int64) ([]string, []PermissionName, error) {
	query := `
		SELECT r.name, COALESCE(array_agg(DISTINCT p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		GROUP BY r.id, r.name
		ORDER BY r.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var roleNames []string
	seen := make(map[PermissionName]bool)
	var permissions []PermissionName

	for rows.Next() {
		var roleName string
		var permNames []string
		if err := rows.Scan(&roleName, pq.Array(&permNames)); err != nil {
			return nil, nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		roleNames = append(roleNames, roleName)
		for _, name := range permNames {
			perm := PermissionName(name)
			if !seen[perm] {
				seen[perm] = true
				permissions = append(permissions, perm)
			}
		}
	}

	return roleNames, permissions, rows.Err()
}

// SeedPermissions inserts the permission catalog, skipping names that
// already exist. The catalog is append-only.
func (s *Store) SeedPermissions(ctx context.Context) error {
	for _, perm := range Catalog() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO permissions (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING
		`, string(perm))
		if err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm, err)
		}
	}
	return nil
}
