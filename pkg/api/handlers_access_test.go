package api

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peregrinehq/stacks/pkg/access"
	"github.com/peregrinehq/stacks/pkg/identity"
)

func TestPutGrant(t *testing.T) {
	t.Run("admin applies a partial patch", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		now := time.Now()
		expectUser(mock, 1, identity.TierAdmin)
		// Target dataset must exist before the grant is written.
		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "remote_id", "name", "parent_id", "created_at", "updated_at"}).
				AddRow(5, "rd-5", "reports", nil, now, now))
		mock.ExpectQuery(`INSERT INTO access_grants`).
			WithArgs(access.ResourceDataset, int64(5), int64(10), true, nil, nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(grantColumns()).
				AddRow(1, access.ResourceDataset, 5, 10, true, false, false, now, now))

		req := httptest.NewRequest(http.MethodPut, "/access/dataset/5/users/10", strings.NewReader(`{"can_view":true}`))
		rec := doRequest(server, 1, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"can_view":true`)
		assert.Contains(t, rec.Body.String(), `"can_edit":false`)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-manager is denied", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 10, identity.TierStandard)
		expectNoRoles(mock, 10)

		req := httptest.NewRequest(http.MethodPut, "/access/dataset/5/users/11", strings.NewReader(`{"can_view":true}`))
		rec := doRequest(server, 10, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "access denied")

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown resource type is a 400", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 1, identity.TierAdmin)

		req := httptest.NewRequest(http.MethodPut, "/access/folder/5/users/10", strings.NewReader(`{"can_view":true}`))
		rec := doRequest(server, 1, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("grant on a missing dataset is a 404", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 1, identity.TierAdmin)
		mock.ExpectQuery(`SELECT id, remote_id, name, parent_id`).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest(http.MethodPut, "/access/dataset/99/users/10", strings.NewReader(`{"can_view":true}`))
		rec := doRequest(server, 1, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteGrant(t *testing.T) {
	t.Run("admin revokes a grant", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 1, identity.TierAdmin)
		mock.ExpectExec(`DELETE FROM access_grants`).
			WithArgs(access.ResourceDocument, int64(7), int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec := doRequest(server, 1, httptest.NewRequest(http.MethodDelete, "/access/document/7/users/10", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBulkReplaceGrants(t *testing.T) {
	t.Run("replaces the user's grant set in one transaction", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 1, identity.TierAdmin)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM access_grants`).
			WithArgs(access.ResourceDataset, int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`INSERT INTO access_grants`).
			WithArgs(access.ResourceDataset, int64(5), int64(10), true, true, false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body := `[{"resource_id":5,"can_view":true,"can_edit":true},{"resource_id":6}]`
		req := httptest.NewRequest(http.MethodPut, "/users/10/access/dataset", strings.NewReader(body))
		rec := doRequest(server, 1, req)

		// The all-false entry for resource 6 is dropped, not stored.
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive resource id rejected", func(t *testing.T) {
		server, _, mock, db := newTestServer(t)
		defer db.Close()

		expectUser(mock, 1, identity.TierAdmin)

		body := `[{"resource_id":0,"can_view":true}]`
		req := httptest.NewRequest(http.MethodPut, "/users/10/access/dataset", strings.NewReader(body))
		rec := doRequest(server, 1, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
