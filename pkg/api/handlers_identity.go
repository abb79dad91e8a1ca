package api

import (
	"fmt"
	"net/http"

	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/httputil"
	"github.com/peregrinehq/stacks/pkg/identity"
)

// createUserRequest is the body for POST /users
type createUserRequest struct {
	IdentityKey string `json:"identity_key"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// createUser handles POST /users. The account tier is derived from the
// identity key at creation; promoting an existing account goes through
// the tier endpoint.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermUsersManage) {
		return
	}

	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user := &identity.User{
		IdentityKey: req.IdentityKey,
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}
	if err := s.identity.CreateUser(r.Context(), user); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// getUser handles GET /users/{id}. Callers may fetch themselves; anyone
// else requires the user management permission.
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if id != callerID && !s.requirePermission(w, r, callerID, identity.PermUsersManage) {
		return
	}

	user, err := s.identity.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// setTierRequest is the body for PUT /users/{id}/tier
type setTierRequest struct {
	Tier identity.AccountTier `json:"tier"`
}

// setUserTier handles PUT /users/{id}/tier. Only superadmins may change
// tiers; the resolved entry for the target is invalidated so the change
// takes effect immediately.
func (s *Server) setUserTier(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}

	resolved, err := s.resolver.Resolve(r.Context(), callerID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !resolved.IsSuperAdmin {
		httputil.WriteFault(w, faults.ErrUnauthorized)
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req setTierRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Tier.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown tier %q", req.Tier))
		return
	}

	if err := s.identity.SetUserTier(r.Context(), id, req.Tier); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	s.resolver.Invalidate(r.Context(), id)
	httputil.WriteNoContent(w)
}

// createRoleRequest is the body for POST /roles
type createRoleRequest struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Permissions []identity.PermissionName `json:"permissions"`
}

// listRoles handles GET /roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermRolesManage) {
		return
	}

	roles, err := s.identity.ListRoles(r.Context())
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// createRole handles POST /roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermRolesManage) {
		return
	}

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &identity.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := s.identity.CreateRole(r.Context(), role); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// getRole handles GET /roles/{id}
func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermRolesManage) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := s.identity.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /roles/{id}. Cached resolutions for users
// holding the role age out on the cache TTL rather than being swept here.
func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermRolesManage) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.identity.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// assignRole handles PUT /users/{userID}/roles/{roleID}
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermRolesManage) {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	userRole := &identity.UserRole{
		UserID:    userID,
		RoleID:    roleID,
		GrantedBy: &callerID,
	}
	if err := s.identity.AssignRole(r.Context(), userRole); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	s.resolver.Invalidate(r.Context(), userID)
	httputil.WriteNoContent(w)
}

// revokeRole handles DELETE /users/{userID}/roles/{roleID}
func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, callerID, identity.PermRolesManage) {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	if err := s.identity.RevokeRole(r.Context(), userID, roleID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	s.resolver.Invalidate(r.Context(), userID)
	httputil.WriteNoContent(w)
}
