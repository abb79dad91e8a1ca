package identity

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peregrinehq/stacks/pkg/observability"
)

func newTestResolver(t *testing.T, cache *PermissionCache) (*Resolver, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewResolver(NewStore(db), cache, logger, nil), mock, db
}

func expectUserRow(mock sqlmock.Sqlmock, userID int64, tier AccountTier) {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "identity_key", "display_name", "email", "password_hash", "tier", "created_at", "updated_at",
	}).AddRow(userID, fmt.Sprintf("user-%d", userID), "User", "", "", tier, now, now)
	mock.ExpectQuery(`SELECT id, identity_key, display_name, email, password_hash, tier, created_at, updated_at`).
		WithArgs(userID).
		WillReturnRows(rows)
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("standard user gets union of role permissions", func(t *testing.T) {
		resolver, mock, db := newTestResolver(t, nil)
		defer db.Close()

		expectUserRow(mock, 10, TierStandard)
		mock.ExpectQuery(`FROM user_roles ur`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "coalesce"}).
				AddRow("editors", "{datasets.view,datasets.edit}"))

		resolved, err := resolver.Resolve(ctx, 10)
		require.NoError(t, err)
		assert.False(t, resolved.IsAdmin)
		assert.Equal(t, []string{"editors"}, resolved.Roles)
		assert.True(t, resolved.Has(PermDatasetsView))
		assert.True(t, resolved.Has(PermDatasetsEdit))
		assert.False(t, resolved.Has(PermDatasetsDelete))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin short-circuits to full catalog", func(t *testing.T) {
		resolver, mock, db := newTestResolver(t, nil)
		defer db.Close()

		// No role query expected.
		expectUserRow(mock, 1, TierAdmin)

		resolved, err := resolver.Resolve(ctx, 1)
		require.NoError(t, err)
		assert.True(t, resolved.IsAdmin)
		assert.False(t, resolved.IsSuperAdmin)
		for _, perm := range Catalog() {
			assert.True(t, resolved.Has(perm), "expected admin to hold %s", perm)
		}

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("superadmin is also admin", func(t *testing.T) {
		resolver, mock, db := newTestResolver(t, nil)
		defer db.Close()

		expectUserRow(mock, 2, TierSuperAdmin)

		resolved, err := resolver.Resolve(ctx, 2)
		require.NoError(t, err)
		assert.True(t, resolved.IsAdmin)
		assert.True(t, resolved.IsSuperAdmin)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lookup failure returns error not empty grant", func(t *testing.T) {
		resolver, mock, db := newTestResolver(t, nil)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, identity_key, display_name, email, password_hash, tier, created_at, updated_at`).
			WithArgs(int64(3)).
			WillReturnError(fmt.Errorf("database connection error"))

		resolved, err := resolver.Resolve(ctx, 3)
		require.Error(t, err)
		assert.Nil(t, resolved)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second resolve served from cache", func(t *testing.T) {
		cache := NewLocalPermissionCache(16, time.Minute)
		resolver, mock, db := newTestResolver(t, cache)
		defer db.Close()

		expectUserRow(mock, 10, TierStandard)
		mock.ExpectQuery(`FROM user_roles ur`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "coalesce"}).
				AddRow("editors", "{datasets.view}"))

		first, err := resolver.Resolve(ctx, 10)
		require.NoError(t, err)

		// No further expectations registered; a store hit would fail.
		second, err := resolver.Resolve(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalidate forces re-resolution", func(t *testing.T) {
		cache := NewLocalPermissionCache(16, time.Minute)
		resolver, mock, db := newTestResolver(t, cache)
		defer db.Close()

		expectUserRow(mock, 10, TierStandard)
		mock.ExpectQuery(`FROM user_roles ur`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "coalesce"}).
				AddRow("editors", "{datasets.view}"))

		_, err := resolver.Resolve(ctx, 10)
		require.NoError(t, err)

		resolver.Invalidate(ctx, 10)

		expectUserRow(mock, 10, TierStandard)
		mock.ExpectQuery(`FROM user_roles ur`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "coalesce"}).
				AddRow("editors", "{datasets.view,datasets.edit}"))

		resolved, err := resolver.Resolve(ctx, 10)
		require.NoError(t, err)
		assert.True(t, resolved.Has(PermDatasetsEdit))

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResolver_HasPermission(t *testing.T) {
	resolver, mock, db := newTestResolver(t, nil)
	defer db.Close()

	expectUserRow(mock, 10, TierStandard)
	mock.ExpectQuery(`FROM user_roles ur`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "coalesce"}).
			AddRow("readers", "{documents.view}"))

	ok, err := resolver.HasPermission(context.Background(), 10, PermDocumentsView)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
