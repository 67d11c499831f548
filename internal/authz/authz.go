// Package authz decides whether a session may observe or act on a conversation.
package authz

import (
	"time"

	"github.com/itscraftings/converse/internal/model"
)

// IsParticipant reports whether userID appears among participants.
func IsParticipant(participants []model.Participant, userID string) bool {
	if userID == "" {
		return false
	}
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// RequireSession fails with an unauthenticated AuthorizationError when s is nil or expired.
func RequireSession(s *model.Session) error {
	if s == nil || s.User.ID == "" {
		return model.NewUnauthenticatedError()
	}
	if !s.Expires.IsZero() && time.Now().After(s.Expires) {
		return model.NewUnauthenticatedError()
	}
	return nil
}

// RequireParticipant combines RequireSession with a participant check.
func RequireParticipant(s *model.Session, participants []model.Participant) error {
	if err := RequireSession(s); err != nil {
		return err
	}
	if !IsParticipant(participants, s.User.ID) {
		return model.NewForbiddenError("not a participant of this conversation")
	}
	return nil
}
