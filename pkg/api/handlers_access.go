package api

import (
	"fmt"
	"net/http"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/httputil"
)

// parseResourceType validates the {type} path segment
func parseResourceType(w http.ResponseWriter, r *http.Request) (access.ResourceType, bool) {
	raw, err := httputil.ParsePathString(r, "type")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	resourceType := access.ResourceType(raw)
	if !resourceType.Valid() {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown resource type %q", raw))
		return "", false
	}
	return resourceType, true
}

// resourceExists verifies the grant target before touching the ACL, so
// administrators get a 404 for typos instead of a silently dangling row.
func (s *Server) resourceExists(w http.ResponseWriter, r *http.Request, resourceType access.ResourceType, resourceID int64) bool {
	var err error
	switch resourceType {
	case access.ResourceDataset:
		_, err = s.datasets.Get(r.Context(), resourceID)
	case access.ResourceDocument:
		_, err = s.documents.Get(r.Context(), resourceID)
	}
	if err != nil {
		httputil.WriteFault(w, err)
		return false
	}
	return true
}

// putGrant handles PUT /access/{type}/{resourceID}/users/{userID}.
// The body is a partial flag patch: omitted flags keep their current
// value on an existing row and default to false on a new one.
func (s *Server) putGrant(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requireAccessManager(w, r, callerID) {
		return
	}

	resourceType, ok := parseResourceType(w, r)
	if !ok {
		return
	}
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, "resourceID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	if !s.resourceExists(w, r, resourceType, resourceID) {
		return
	}

	var patch access.FlagPatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	grant, err := s.acl.Grant(r.Context(), resourceType, resourceID, userID, patch)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// deleteGrant handles DELETE /access/{type}/{resourceID}/users/{userID}
func (s *Server) deleteGrant(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requireAccessManager(w, r, callerID) {
		return
	}

	resourceType, ok := parseResourceType(w, r)
	if !ok {
		return
	}
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, "resourceID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	if err := s.acl.Revoke(r.Context(), resourceType, resourceID, userID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listResourceGrants handles GET /access/{type}/{resourceID}/users
func (s *Server) listResourceGrants(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requireAccessManager(w, r, callerID) {
		return
	}

	resourceType, ok := parseResourceType(w, r)
	if !ok {
		return
	}
	resourceID, ok := httputil.ParsePathInt64OrError(w, r, "resourceID")
	if !ok {
		return
	}

	grants, err := s.acl.ListForResource(r.Context(), resourceType, resourceID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

// bulkGrantEntry is one element of the bulk-replace body
type bulkGrantEntry struct {
	ResourceID int64 `json:"resource_id"`
	CanView    bool  `json:"can_view"`
	CanEdit    bool  `json:"can_edit"`
	CanDelete  bool  `json:"can_delete"`
}

// bulkReplaceGrants handles PUT /users/{userID}/access/{type}: the body
// becomes the user's complete grant set for that resource type, replacing
// whatever was there before. All-false entries are dropped.
func (s *Server) bulkReplaceGrants(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requireAccessManager(w, r, callerID) {
		return
	}

	resourceType, ok := parseResourceType(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var entries []bulkGrantEntry
	if !httputil.ParseJSONOrError(w, r, &entries) {
		return
	}

	grants := make([]access.Grant, 0, len(entries))
	for _, entry := range entries {
		if entry.ResourceID <= 0 {
			httputil.WriteFault(w, faults.NewValidation("resource_id", "must be positive"))
			return
		}
		grants = append(grants, access.Grant{
			ResourceType: resourceType,
			ResourceID:   entry.ResourceID,
			UserID:       userID,
			CanView:      entry.CanView,
			CanEdit:      entry.CanEdit,
			CanDelete:    entry.CanDelete,
		})
	}

	if err := s.acl.BulkReplace(r.Context(), resourceType, userID, grants); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
