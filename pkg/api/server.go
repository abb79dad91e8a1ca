// Package api exposes the dataset, document, access-administration and
// identity-administration HTTP endpoints. Handlers authorize every request
// through the access engine before touching a manager; authorization
// failures always return the same generic denial so callers cannot probe
// for resource existence.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/contextkeys"
	"github.com/peregrinehq/stacks/pkg/datasets"
	"github.com/peregrinehq/stacks/pkg/documents"
	"github.com/peregrinehq/stacks/pkg/faults"
	"github.com/peregrinehq/stacks/pkg/httputil"
	"github.com/peregrinehq/stacks/pkg/identity"
	"github.com/peregrinehq/stacks/pkg/middleware"
	"github.com/peregrinehq/stacks/pkg/observability"
)

// Deps carries the constructed services the server routes to
type Deps struct {
	Datasets  *datasets.Manager
	Documents *documents.Manager
	ACL       *access.Store
	Engine    *access.Engine
	Identity  *identity.Store
	Resolver  *identity.Resolver
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Limiter   *middleware.RateLimiter
}

// Server represents our API server
type Server struct {
	router    *mux.Router
	datasets  *datasets.Manager
	documents *documents.Manager
	acl       *access.Store
	engine    *access.Engine
	identity  *identity.Store
	resolver  *identity.Resolver
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		datasets:  deps.Datasets,
		documents: deps.Documents,
		acl:       deps.ACL,
		engine:    deps.Engine,
		identity:  deps.Identity,
		resolver:  deps.Resolver,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}

	s.router.Use(middleware.Recovery(deps.Logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogging(deps.Logger))
	s.router.Use(middleware.Identity)
	if deps.Limiter != nil {
		s.router.Use(deps.Limiter.Handler)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Dataset routes
	s.handle("/datasets", s.listDatasets, "GET")
	s.handle("/datasets", s.createDataset, "POST")
	s.handle("/datasets/{id}", s.getDataset, "GET")
	s.handle("/datasets/{id}", s.updateDataset, "PATCH")
	s.handle("/datasets/{id}", s.deleteDataset, "DELETE")

	// Document routes
	s.handle("/datasets/{id}/documents", s.listDatasetDocuments, "GET")
	s.handle("/datasets/{id}/documents", s.createDocument, "POST")
	s.handle("/documents", s.listDocuments, "GET")
	s.handle("/documents/{id}", s.getDocument, "GET")
	s.handle("/documents/{id}", s.updateDocument, "PATCH")
	s.handle("/documents/{id}", s.deleteDocument, "DELETE")

	// Access administration routes
	s.handle("/access/{type}/{resourceID}/users/{userID}", s.putGrant, "PUT")
	s.handle("/access/{type}/{resourceID}/users/{userID}", s.deleteGrant, "DELETE")
	s.handle("/access/{type}/{resourceID}/users", s.listResourceGrants, "GET")
	s.handle("/users/{userID}/access/{type}", s.bulkReplaceGrants, "PUT")

	// Identity administration routes
	s.handle("/users", s.createUser, "POST")
	s.handle("/users/{id}", s.getUser, "GET")
	s.handle("/users/{id}/tier", s.setUserTier, "PUT")
	s.handle("/roles", s.listRoles, "GET")
	s.handle("/roles", s.createRole, "POST")
	s.handle("/roles/{id}", s.getRole, "GET")
	s.handle("/roles/{id}", s.deleteRole, "DELETE")
	s.handle("/users/{userID}/roles/{roleID}", s.assignRole, "PUT")
	s.handle("/users/{userID}/roles/{roleID}", s.revokeRole, "DELETE")
}

// handle registers a route, instrumented with request metrics under the
// route template so URL ids do not explode metric cardinality.
func (s *Server) handle(path string, fn http.HandlerFunc, methods ...string) {
	var handler http.Handler = fn
	if s.metrics != nil {
		handler = s.metrics.InstrumentHandler(path, handler)
	}
	s.router.Handle(path, handler).Methods(methods...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// caller returns the authenticated caller's user id, responding with a
// 401 when the identity middleware did not run.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := contextkeys.GetUserID(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "missing caller identity")
		return 0, false
	}
	return userID, true
}

// authorize checks a fine-grained action against the access engine. A
// denial and a lookup on a nonexistent resource produce the same
// response body.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, userID int64, resourceType access.ResourceType, resourceID int64, action access.Action) bool {
	allowed, err := s.engine.CanAccess(r.Context(), userID, resourceType, resourceID, action)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return false
	}
	if !allowed {
		httputil.WriteFault(w, faults.ErrUnauthorized)
		return false
	}
	return true
}

// requirePermission checks a catalog permission via the resolver
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, userID int64, perm identity.PermissionName) bool {
	ok, err := s.resolver.HasPermission(r.Context(), userID, perm)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return false
	}
	if !ok {
		httputil.WriteFault(w, faults.ErrUnauthorized)
		return false
	}
	return true
}

// requireAccessManager gates the access administration endpoints
func (s *Server) requireAccessManager(w http.ResponseWriter, r *http.Request, userID int64) bool {
	ok, err := s.engine.CanManageAccess(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return false
	}
	if !ok {
		httputil.WriteFault(w, faults.ErrUnauthorized)
		return false
	}
	return true
}
