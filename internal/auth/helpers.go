package auth

import (
	"errors"
	"net/http"
	"strings"
)

// TokenFromRequest extracts the session token from the Authorization header,
// falling back to the token query parameter used by WebSocket clients.
func TokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, nil
		}
		return "", ErrMissingToken
	}

	// Expect "Bearer <token>" format
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("invalid Authorization header format, expected 'Bearer <token>'")
	}

	return parts[1], nil
}
