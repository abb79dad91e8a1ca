package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peregrinehq/stacks/pkg/contextkeys"
)

func TestIdentity(t *testing.T) {
	var gotUserID int64
	var called bool
	handler := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotUserID, _ = contextkeys.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("extracts caller id from header", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
		req.Header.Set(CallerHeader, "42")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.True(t, called)
		assert.Equal(t, int64(42), gotUserID)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects non-numeric header", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
		req.Header.Set(CallerHeader, "alice")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects non-positive id", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
		req.Header.Set(CallerHeader, "0")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
