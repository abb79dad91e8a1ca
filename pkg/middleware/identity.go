package middleware

import (
	"net/http"
	"strconv"

	"github.com/peregrinehq/stacks/pkg/contextkeys"
	"github.com/peregrinehq/stacks/pkg/httputil"
)

// CallerHeader is the trusted header carrying the caller's local user id.
// It is set by the fronting gateway after authentication; this service
// never issues or validates credentials itself.
const CallerHeader = "X-Stacks-User"

// Identity extracts the caller's user id from CallerHeader and stores it
// in the request context. Requests without a parseable id are rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(CallerHeader)
		if header == "" {
			httputil.WriteUnauthorized(w, "missing caller identity")
			return
		}

		userID, err := strconv.ParseInt(header, 10, 64)
		if err != nil || userID <= 0 {
			httputil.WriteUnauthorized(w, "invalid caller identity")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
