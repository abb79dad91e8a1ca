package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedTier(t *testing.T) {
	assert.Equal(t, TierAdmin, ReservedTier("stacks-admin"))
	assert.Equal(t, TierSuperAdmin, ReservedTier("stacks-root"))
	assert.Equal(t, TierStandard, ReservedTier("alice"))
	assert.Equal(t, TierStandard, ReservedTier(""))
}

func TestAccountTier_Valid(t *testing.T) {
	assert.True(t, TierStandard.Valid())
	assert.True(t, TierAdmin.Valid())
	assert.True(t, TierSuperAdmin.Valid())
	assert.False(t, AccountTier("royalty").Valid())
	assert.False(t, AccountTier("").Valid())
}

func TestResolvedPermissions_Has(t *testing.T) {
	t.Run("admin holds everything", func(t *testing.T) {
		resolved := &ResolvedPermissions{UserID: 1, IsAdmin: true}
		for _, perm := range Catalog() {
			assert.True(t, resolved.Has(perm))
		}
	})

	t.Run("standard user holds only granted permissions", func(t *testing.T) {
		resolved := &ResolvedPermissions{
			UserID:      2,
			Permissions: map[PermissionName]bool{PermDatasetsView: true},
		}
		assert.True(t, resolved.Has(PermDatasetsView))
		assert.False(t, resolved.Has(PermDatasetsDelete))
	})

	t.Run("empty set denies everything", func(t *testing.T) {
		resolved := &ResolvedPermissions{UserID: 3}
		for _, perm := range Catalog() {
			assert.False(t, resolved.Has(perm))
		}
	})
}

func TestValidPermission(t *testing.T) {
	for _, perm := range Catalog() {
		assert.True(t, ValidPermission(perm))
	}
	assert.False(t, ValidPermission("datasets.teleport"))
}
