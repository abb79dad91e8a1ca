package identity

import (
	"context"
	"fmt"

	"github.com/peregrinehq/stacks/pkg/observability"
)

// Resolver turns a user into their effective permission set. Results
// are cached; mutations to roles or assignments must call Invalidate.
type Resolver struct {
	store   *Store
	cache   *PermissionCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a permission resolver. The cache may be nil, in
// which case every call hits the store.
func NewResolver(store *Store, cache *PermissionCache, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve computes the effective permissions for a user. Admin tiers
// short-circuit to the full catalog without touching role assignments.
// Any lookup failure returns the error; callers must treat that as a
// denial, never as an implicit grant.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (*ResolvedPermissions, error) {
	if r.cache != nil {
		if resolved, ok := r.cache.Get(ctx, userID); ok {
			if r.metrics != nil {
				r.metrics.PermissionCacheHitsTotal.Inc()
			}
			return resolved, nil
		}
		if r.metrics != nil {
			r.metrics.PermissionCacheMissesTotal.Inc()
		}
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	resolved := &ResolvedPermissions{
		UserID:       user.ID,
		Permissions:  make(map[PermissionName]bool),
		IsAdmin:      user.Tier == TierAdmin || user.Tier == TierSuperAdmin,
		IsSuperAdmin: user.Tier == TierSuperAdmin,
	}

	if resolved.IsAdmin {
		for _, perm := range Catalog() {
			resolved.Permissions[perm] = true
		}
	} else {
		roleNames, permissions, err := r.store.GetUserRoleGrants(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve permissions: %w", err)
		}
		resolved.Roles = roleNames
		for _, perm := range permissions {
			resolved.Permissions[perm] = true
		}
	}

	if r.cache != nil {
		r.cache.Set(ctx, resolved)
	}

	return resolved, nil
}

// HasPermission resolves and checks a single permission
func (r *Resolver) HasPermission(ctx context.Context, userID int64, perm PermissionName) (bool, error) {
	resolved, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return resolved.Has(perm), nil
}

// Invalidate drops a user's cached permission set. Call after any role
// or assignment mutation that affects the user.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, userID); err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate permission cache")
	}
}
