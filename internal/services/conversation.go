package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/authz"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
)

// ConversationService creates, lists, reads and deletes conversations.
type ConversationService struct {
	store store.Store
	pub   events.Publisher
	log   zerolog.Logger
}

func NewConversationService(s store.Store, pub events.Publisher, log zerolog.Logger) *ConversationService {
	return &ConversationService{store: s, pub: pub, log: log.With().Str("component", "conversation_service").Logger()}
}

// CreateConversation commits the conversation with its participants, then publishes
// CONVERSATION_CREATED. The requester is always a participant.
func (s *ConversationService) CreateConversation(ctx context.Context, sess *model.Session, participantIDs []string) (string, error) {
	if err := authz.RequireSession(sess); err != nil {
		return "", err
	}
	ids := withRequester(participantIDs, sess.User.ID)

	conv, err := s.store.Conversations().Create(ctx, ids, sess.User.ID)
	if err != nil {
		switch {
		case model.IsValidationError(err):
			return "", err
		case errors.Is(err, model.ErrNotFound):
			return "", model.NewValidationError("participantIds", "unknown participant")
		default:
			return "", storeFailure(s.log, "createConversation", "could not create conversation", err,
				map[string]interface{}{"user_id": sess.User.ID, "participants": len(ids)})
		}
	}

	notify(ctx, s.pub, events.ConversationCreated{Conversation: *conv})
	return conv.ID, nil
}

// Conversations lists the session user's conversations, most recently updated first.
func (s *ConversationService) Conversations(ctx context.Context, sess *model.Session) ([]model.ConversationPopulated, error) {
	if err := authz.RequireSession(sess); err != nil {
		return nil, err
	}
	out, err := s.store.Conversations().ListForUser(ctx, sess.User.ID)
	if err != nil {
		return nil, lookupFailure(s.log, "userId", "conversations", err)
	}
	return out, nil
}

// MarkConversationAsRead marks the latest message seen for the session user.
// Nothing is published.
func (s *ConversationService) MarkConversationAsRead(ctx context.Context, sess *model.Session, userID, conversationID string) (bool, error) {
	if err := authz.RequireSession(sess); err != nil {
		return false, err
	}
	if userID != sess.User.ID {
		return false, model.NewForbiddenError("cannot mark a conversation read for another user")
	}
	if conversationID == "" {
		return false, model.NewValidationError("conversationId", "is required")
	}

	if err := s.store.Participants().MarkRead(ctx, conversationID, userID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, model.NewNotFoundError("participant", "no participant row for this user and conversation")
		}
		return false, storeFailure(s.log, "markConversationAsRead", "could not mark conversation as read", err,
			map[string]interface{}{"user_id": userID, "conversation_id": conversationID})
	}
	return true, nil
}

// DeleteConversation removes the conversation, its participants and its messages
// atomically, then publishes CONVERSATION_DELETED with the pre-deletion snapshot.
func (s *ConversationService) DeleteConversation(ctx context.Context, sess *model.Session, conversationID string) (bool, error) {
	if err := authz.RequireSession(sess); err != nil {
		return false, err
	}
	conv, err := s.store.Conversations().Get(ctx, conversationID)
	if err != nil {
		return false, lookupFailure(s.log, "conversationId", "conversation", err)
	}
	if err := authz.RequireParticipant(sess, conv.ParticipantRows()); err != nil {
		return false, err
	}

	snapshot, err := s.store.Conversations().Delete(ctx, conversationID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, model.NewNotFoundError("conversationId", "conversation not found")
		}
		return false, storeFailure(s.log, "deleteConversation", "could not delete conversation", err,
			map[string]interface{}{"user_id": sess.User.ID, "conversation_id": conversationID})
	}

	notify(ctx, s.pub, events.ConversationDeleted{Conversation: *snapshot})
	return true, nil
}

func withRequester(ids []string, requester string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]bool, len(ids)+1)
	for _, id := range append([]string{requester}, ids...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
