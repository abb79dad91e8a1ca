package access

import (
	"context"
	"fmt"

	"github.com/peregrinehq/stacks/pkg/identity"
	"github.com/peregrinehq/stacks/pkg/observability"
)

// Engine answers access questions by combining role-derived permission
// sets with per-resource ACL rows. Listings use coarse visibility (any
// flag on the row makes the resource visible) so they never fan out
// into per-resource checks; mutating operations always re-check the
// precise flag through CanAccess.
type Engine struct {
	resolver *identity.Resolver
	store    *Store
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine creates an access engine
func NewEngine(resolver *identity.Resolver, store *Store, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		resolver: resolver,
		store:    store,
		logger:   logger,
		metrics:  metrics,
	}
}

// CanAccess decides whether a user may perform an action on a resource.
// Admin tiers are allowed unconditionally; everyone else needs an ACL
// row with the matching flag. Any lookup failure propagates as an
// error so a broken store never silently grants.
func (e *Engine) CanAccess(ctx context.Context, userID int64, resourceType ResourceType, resourceID int64, action Action) (bool, error) {
	if !action.Valid() {
		return false, fmt.Errorf("unknown action %q", action)
	}

	resolved, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}

	if resolved.IsAdmin {
		e.recordDecision(resourceType, action, true)
		return true, nil
	}

	grant, err := e.store.Get(ctx, resourceType, resourceID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}
	if grant == nil {
		e.recordDecision(resourceType, action, false)
		return false, nil
	}

	allowed := grant.Allows(action)
	e.recordDecision(resourceType, action, allowed)
	return allowed, nil
}

// IsAdmin reports whether the user's tier carries the admin override
func (e *Engine) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	resolved, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return resolved.IsAdmin, nil
}

// CanManageAccess reports whether the user may administer ACL rows.
// Only the admin tiers and holders of the access-management permission
// qualify; resource-level grants never confer this.
func (e *Engine) CanManageAccess(ctx context.Context, userID int64) (bool, error) {
	resolved, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return resolved.Has(identity.PermAccessManage), nil
}

// AccessibleResourceIDs returns the IDs of every resource of the given
// type visible to the user: any true flag on the ACL row counts. For
// admin tiers it returns nil with wildcard=true, meaning all resources;
// callers list without an ID filter in that case.
func (e *Engine) AccessibleResourceIDs(ctx context.Context, userID int64, resourceType ResourceType) (ids []int64, wildcard bool, err error) {
	resolved, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list accessible resources: %w", err)
	}

	if resolved.IsAdmin {
		return nil, true, nil
	}

	grants, err := e.store.ListForUser(ctx, resourceType, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list accessible resources: %w", err)
	}

	ids = make([]int64, 0, len(grants))
	for _, grant := range grants {
		if grant.CanView || grant.CanEdit || grant.CanDelete {
			ids = append(ids, grant.ResourceID)
		}
	}
	return ids, false, nil
}

func (e *Engine) recordDecision(resourceType ResourceType, action Action, allowed bool) {
	if e.metrics != nil {
		e.metrics.RecordAccessDecision(string(resourceType), string(action), allowed)
	}
}
