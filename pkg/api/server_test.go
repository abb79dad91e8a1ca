package api

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/datasets"
	"github.com/peregrinehq/stacks/pkg/documents"
	"github.com/peregrinehq/stacks/pkg/identity"
	"github.com/peregrinehq/stacks/pkg/middleware"
	"github.com/peregrinehq/stacks/pkg/observability"
	"github.com/peregrinehq/stacks/pkg/remote"
)

func newTestServer(t *testing.T) (*Server, *remote.FakeGateway, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	gateway := remote.NewFakeGateway()

	idStore := identity.NewStore(db)
	resolver := identity.NewResolver(idStore, nil, logger, nil)
	aclStore := access.NewStore(db)
	engine := access.NewEngine(resolver, aclStore, logger, nil)
	dsStore := datasets.NewStore(db)
	dsManager := datasets.NewManager(db, dsStore, aclStore, engine, gateway, logger, nil)
	docManager := documents.NewManager(db, documents.NewStore(db), dsStore, aclStore, engine, gateway, logger, nil)

	server := NewServer(Deps{
		Datasets:  dsManager,
		Documents: docManager,
		ACL:       aclStore,
		Engine:    engine,
		Identity:  idStore,
		Resolver:  resolver,
		Logger:    logger,
	})
	return server, gateway, mock, db
}

// expectUser queues the resolver's user lookup for one permission resolve
func expectUser(mock sqlmock.Sqlmock, userID int64, tier identity.AccountTier) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "identity_key", "display_name", "email", "password_hash", "tier", "created_at", "updated_at",
	}).AddRow(userID, fmt.Sprintf("user-%d", userID), "User", "", "", tier, now, now)
	mock.ExpectQuery(`SELECT id, identity_key, display_name, email, password_hash, tier, created_at, updated_at`).
		WithArgs(userID).
		WillReturnRows(rows)
}

func expectNoRoles(mock sqlmock.Sqlmock, userID int64) {
	mock.ExpectQuery(`FROM user_roles ur`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "coalesce"}))
}

func grantColumns() []string {
	return []string{
		"id", "resource_type", "resource_id", "user_id",
		"can_view", "can_edit", "can_delete", "created_at", "updated_at",
	}
}

// doRequest serves one request as the given caller
func doRequest(server *Server, userID int64, req *http.Request) *httptest.ResponseRecorder {
	if userID != 0 {
		req.Header.Set(middleware.CallerHeader, fmt.Sprintf("%d", userID))
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestServerMiddleware(t *testing.T) {
	t.Run("rejects requests without caller header", func(t *testing.T) {
		server, _, _, db := newTestServer(t)
		defer db.Close()

		rec := doRequest(server, 0, httptest.NewRequest(http.MethodGet, "/datasets", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("assigns and echoes a request id", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 1, identity.TierAdmin)
		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "name", "parent_id", "created_at", "updated_at"}))

		rec := doRequest(server, 1, httptest.NewRequest(http.MethodGet, "/datasets", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("rate limiter returns 429 when exhausted", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
		idStore := identity.NewStore(db)
		resolver := identity.NewResolver(idStore, nil, logger, nil)
		aclStore := access.NewStore(db)
		engine := access.NewEngine(resolver, aclStore, logger, nil)
		dsStore := datasets.NewStore(db)
		gateway := remote.NewFakeGateway()

		server := NewServer(Deps{
			Datasets:  datasets.NewManager(db, dsStore, aclStore, engine, gateway, logger, nil),
			Documents: documents.NewManager(db, documents.NewStore(db), dsStore, aclStore, engine, gateway, logger, nil),
			ACL:       aclStore,
			Engine:    engine,
			Identity:  idStore,
			Resolver:  resolver,
			Logger:    logger,
			Limiter: middleware.NewRateLimiter(&middleware.RateLimitConfig{
				RequestsPerWindow: 60,
				WindowDuration:    time.Minute,
				BurstSize:         1,
			}),
		})

		expectUser(mock, 1, identity.TierAdmin)
		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "name", "parent_id", "created_at", "updated_at"}))

		rec := doRequest(server, 1, httptest.NewRequest(http.MethodGet, "/datasets", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(server, 1, httptest.NewRequest(http.MethodGet, "/datasets", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}
