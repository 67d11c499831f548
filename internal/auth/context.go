package auth

import (
	"context"

	"github.com/itscraftings/converse/internal/model"
)

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by WithSession, or nil.
func SessionFrom(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionKey{}).(*model.Session)
	return s
}
