package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/auth"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
)

// TokenVerifier checks a session token. *auth.Issuer implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// sessionMiddleware resolves the request's token into a session. Requests
// without a valid token, or whose user no longer exists, carry a nil session
// and are rejected by the handlers that need one.
func sessionMiddleware(v TokenVerifier, users store.Users, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := auth.TokenFromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := v.Verify(tok)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected session token")
				next.ServeHTTP(w, r)
				return
			}
			u, err := users.Get(r.Context(), claims.Subject)
			if err != nil {
				if !errors.Is(err, model.ErrNotFound) {
					log.Error().Err(err).Str("user_id", claims.Subject).Msg("session user lookup failed")
				}
				next.ServeHTTP(w, r)
				return
			}

			sess := claims.Session()
			sess.User.Username = ""
			if u.Username != nil {
				sess.User.Username = *u.Username
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		})
	}
}
