package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/documents"
	"github.com/peregrinehq/stacks/pkg/httputil"
	"github.com/peregrinehq/stacks/pkg/identity"
)

// maxUploadBytes bounds multipart parsing for document uploads
const maxUploadBytes = 32 << 20

// listDatasetDocuments handles GET /datasets/{id}/documents
func (s *Server) listDatasetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	datasetID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	list, err := s.documents.ListAccessible(r.Context(), userID, &datasetID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// listDocuments handles GET /documents
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}

	list, err := s.documents.ListAccessible(r.Context(), userID, nil)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createDocument handles POST /datasets/{id}/documents. The body is
// multipart: a required "file" part plus optional "name" and
// "content_type" fields overriding the part's own metadata.
func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	datasetID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requirePermission(w, r, userID, identity.PermDocumentsCreate) {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteBadRequest(w, "expected multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			httputil.WriteBadRequest(w, "file part is required")
			return
		}
		httputil.WriteBadRequest(w, "invalid file part: "+err.Error())
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read file part: "+err.Error())
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	contentType := r.FormValue("content_type")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	document, err := s.documents.Create(r.Context(), userID, datasetID, name, contentType, content)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteCreated(w, document)
}

// getDocument handles GET /documents/{id}
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.authorize(w, r, userID, access.ResourceDocument, id, access.ActionView) {
		return
	}

	document, err := s.documents.Get(r.Context(), id)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, document)
}

// updateDocument handles PATCH /documents/{id}. A multipart body replaces
// the file content; a JSON body updates metadata only.
func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.authorize(w, r, userID, access.ResourceDocument, id, access.ActionEdit) {
		return
	}

	var req documents.UpdateRequest
	var content []byte

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			httputil.WriteBadRequest(w, "invalid multipart form: "+err.Error())
			return
		}

		if file, _, err := r.FormFile("file"); err == nil {
			content, err = io.ReadAll(file)
			file.Close()
			if err != nil {
				httputil.WriteBadRequest(w, "failed to read file part: "+err.Error())
				return
			}
		} else if !errors.Is(err, http.ErrMissingFile) {
			httputil.WriteBadRequest(w, "invalid file part: "+err.Error())
			return
		}

		if name := r.FormValue("name"); name != "" {
			req.Name = &name
		}
		if contentType := r.FormValue("content_type"); contentType != "" {
			req.ContentType = &contentType
		}
	} else if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	document, err := s.documents.Update(r.Context(), id, req, content)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteSuccess(w, document)
}

// deleteDocument handles DELETE /documents/{id}
func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.authorize(w, r, userID, access.ResourceDocument, id, access.ActionDelete) {
		return
	}

	if err := s.documents.Delete(r.Context(), id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
