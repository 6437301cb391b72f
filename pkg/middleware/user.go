package middleware

import (
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/logger"
)

// UserIDHeader carries the caller identity set by the fronting gateway. It
// is trusted as sent; the service must not be reachable around the gateway.
const UserIDHeader = "X-User-ID"

// UserID stores the caller identity from UserIDHeader in the request
// context. Requests without it stay anonymous.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(logger.WithUserID(r.Context(), id)))
	})
}
