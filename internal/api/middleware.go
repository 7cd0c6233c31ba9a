package api

import (
	"log"
	"net/http"

	"github.com/bobarin/listingreel/internal/auth"
	"github.com/google/uuid"
)

// Authenticator resolves the user behind a request's session.
type Authenticator interface {
	Authenticate(r *http.Request) (uuid.UUID, error)
}

// SessionAuth rejects requests without a valid session and stores the user
// id on the request context for the handlers.
func SessionAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authn.Authenticate(r)
			if err != nil {
				log.Printf("[Auth] Rejected %s %s: %v", r.Method, r.URL.Path, err)
				respondError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}
