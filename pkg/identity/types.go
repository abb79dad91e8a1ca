package identity

import (
	"time"
)

// AccountTier is the explicit admin flag carried on a user account. It
// replaces the legacy convention of comparing the identity key against two
// reserved values; that convention survives only in ReservedTier, consulted
// when accounts are seeded.
type AccountTier string

const (
	TierStandard   AccountTier = "standard"
	TierAdmin      AccountTier = "admin"
	TierSuperAdmin AccountTier = "superadmin"
)

// Valid reports whether the tier is one of the known values
func (t AccountTier) Valid() bool {
	switch t {
	case TierStandard, TierAdmin, TierSuperAdmin:
		return true
	}
	return false
}

// Legacy break-glass identity keys. Accounts seeded with these keys are
// promoted to the corresponding tier; nothing at request time ever
// compares identity strings.
const (
	reservedAdminKey      = "stacks-admin"
	reservedSuperAdminKey = "stacks-root"
)

// ReservedTier returns the tier historically implied by a reserved
// identity key, or TierStandard. This is the single place the legacy
// magic-value convention is allowed to exist.
func ReservedTier(identityKey string) AccountTier {
	switch identityKey {
	case reservedSuperAdminKey:
		return TierSuperAdmin
	case reservedAdminKey:
		return TierAdmin
	}
	return TierStandard
}

// PermissionName is a permission in the closed `<resource>.<action>`
// catalog. The catalog is immutable and seeded at setup; unknown names are
// rejected at the boundary.
type PermissionName string

const (
	PermDatasetsView    PermissionName = "datasets.view"
	PermDatasetsCreate  PermissionName = "datasets.create"
	PermDatasetsEdit    PermissionName = "datasets.edit"
	PermDatasetsDelete  PermissionName = "datasets.delete"
	PermDocumentsView   PermissionName = "documents.view"
	PermDocumentsCreate PermissionName = "documents.create"
	PermDocumentsEdit   PermissionName = "documents.edit"
	PermDocumentsDelete PermissionName = "documents.delete"
	PermAccessManage    PermissionName = "access.manage"
	PermUsersManage     PermissionName = "users.manage"
	PermRolesManage     PermissionName = "roles.manage"
)

// Catalog returns the full seeded permission catalog
func Catalog() []PermissionName {
	return []PermissionName{
		PermDatasetsView,
		PermDatasetsCreate,
		PermDatasetsEdit,
		PermDatasetsDelete,
		PermDocumentsView,
		PermDocumentsCreate,
		PermDocumentsEdit,
		PermDocumentsDelete,
		PermAccessManage,
		PermUsersManage,
		PermRolesManage,
	}
}

// ValidPermission reports whether name is in the catalog
func ValidPermission(name PermissionName) bool {
	for _, p := range Catalog() {
		if p == name {
			return true
		}
	}
	return false
}

// User represents an account
type User struct {
	ID           int64       `json:"id"`
	IdentityKey  string      `json:"identity_key"`
	DisplayName  string      `json:"display_name"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	Tier         AccountTier `json:"tier"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// IsAdmin reports whether the account has an admin tier
func (u *User) IsAdmin() bool {
	return u.Tier == TierAdmin || u.Tier == TierSuperAdmin
}

// Role represents a named set of permissions
type Role struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Permissions []PermissionName `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// UserRole links a user to a role
type UserRole struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	GrantedBy *int64    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// ResolvedPermissions is the effective capability set for one user:
// held roles, the union of their permissions, and the admin tier flags.
type ResolvedPermissions struct {
	UserID       int64                   `json:"user_id"`
	Roles        []string                `json:"roles"`
	Permissions  map[PermissionName]bool `json:"permissions"`
	IsAdmin      bool                    `json:"is_admin"`
	IsSuperAdmin bool                    `json:"is_super_admin"`
}

// Has reports whether the user holds the permission. Admin tiers pass
// unconditionally.
func (rp *ResolvedPermissions) Has(name PermissionName) bool {
	if rp.IsAdmin || rp.IsSuperAdmin {
		return true
	}
	return rp.Permissions[name]
}
