package odata

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/jwtauth"

	"github.com/tendant/content-odata/pkg/contentrepo"
)

// DefaultUserClaim is the JWT claim holding the acting user id.
const DefaultUserClaim = "user_id"

// JWTUser sets the acting user of the request from a claim of the token
// verified by jwtauth.Verifier. Requests without a token pass unchanged;
// a token with a malformed user claim is rejected.
func JWTUser(claim string) func(http.Handler) http.Handler {
	if claim == "" {
		claim = DefaultUserClaim
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || claims == nil {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := claims[claim]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := userID(raw)
			if !ok {
				writeError(w, r, newError(http.StatusUnauthorized, CodeUnauthorized, "invalid %s claim", claim))
				return
			}
			next.ServeHTTP(w, r.WithContext(contentrepo.WithUser(r.Context(), id)))
		})
	}
}

func userID(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), t > 0 && t == float64(int(t))
	case int:
		return t, t > 0
	case int64:
		return int(t), t > 0
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil && n > 0
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil && n > 0
	}
	return 0, false
}
