package api

import (
	"net/http"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/datasets"
	"github.com/peregrinehq/stacks/pkg/httputil"
	"github.com/peregrinehq/stacks/pkg/identity"
)

// createDatasetRequest is the body for POST /datasets
type createDatasetRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// listDatasets handles GET /datasets
func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	list, err := s.datasets.ListAccessible(r.Context(), userID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createDataset handles POST /datasets
func (s *Server) createDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, r, userID, identity.PermDatasetsCreate) {
		return
	}

	var req createDatasetRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dataset, err := s.datasets.Create(r.Context(), userID, req.Name, req.ParentID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteCreated(w, dataset)
}

// getDataset handles GET /datasets/{id}
func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.authorize(w, r, userID, access.ResourceDataset, id, access.ActionView) {
		return
	}

	dataset, err := s.datasets.Get(r.Context(), id)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, dataset)
}

// updateDataset handles PATCH /datasets/{id}
func (s *Server) updateDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.authorize(w, r, userID, access.ResourceDataset, id, access.ActionEdit) {
		return
	}

	var req datasets.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dataset, err := s.datasets.Update(r.Context(), id, req)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, dataset)
}

// deleteDataset handles DELETE /datasets/{id}
func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.authorize(w, r, userID, access.ResourceDataset, id, access.ActionDelete) {
		return
	}

	if err := s.datasets.Delete(r.Context(), id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
