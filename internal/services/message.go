package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/authz"
	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
)

// MaxBodyLength bounds a message body in bytes.
const MaxBodyLength = 4096

// MessageService sends and lists messages.
type MessageService struct {
	store store.Store
	pub   events.Publisher
	log   zerolog.Logger
}

func NewMessageService(s store.Store, pub events.Publisher, log zerolog.Logger) *MessageService {
	return &MessageService{store: s, pub: pub, log: log.With().Str("component", "message_service").Logger()}
}

// SendMessage commits the message, then publishes MESSAGE_SENT and CONVERSATION_UPDATED.
func (s *MessageService) SendMessage(ctx context.Context, sess *model.Session, req model.SendMessageRequest) (bool, error) {
	if err := authz.RequireSession(sess); err != nil {
		return false, err
	}
	if req.SenderID != sess.User.ID {
		return false, model.NewForbiddenError("cannot send as another user")
	}
	if err := validateSend(req); err != nil {
		return false, err
	}

	conv, err := s.store.Conversations().Get(ctx, req.ConversationID)
	if err != nil {
		return false, lookupFailure(s.log, "conversationId", "conversation", err)
	}
	if err := authz.RequireParticipant(sess, conv.ParticipantRows()); err != nil {
		return false, err
	}

	res, err := s.store.Messages().Send(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrConflict):
			return false, model.NewConflictError("id", "message id already exists")
		case errors.Is(err, model.ErrNotFound):
			return false, model.NewNotFoundError("conversationId", "conversation not found")
		default:
			return false, storeFailure(s.log, "sendMessage", "could not send message", err,
				map[string]interface{}{"user_id": sess.User.ID, "conversation_id": req.ConversationID, "message_id": req.ID})
		}
	}

	notify(ctx, s.pub,
		events.MessageSent{Message: res.Message, Participants: res.Conversation.ParticipantRows()},
		events.NewConversationUpdated(res.Conversation),
	)
	return true, nil
}

// Messages returns the conversation's messages newest first. Only participants may read them.
func (s *MessageService) Messages(ctx context.Context, sess *model.Session, conversationID string) ([]model.MessagePopulated, error) {
	if err := authz.RequireSession(sess); err != nil {
		return nil, err
	}
	conv, err := s.store.Conversations().Get(ctx, conversationID)
	if err != nil {
		return nil, lookupFailure(s.log, "conversationId", "conversation", err)
	}
	if err := authz.RequireParticipant(sess, conv.ParticipantRows()); err != nil {
		return nil, err
	}
	out, err := s.store.Messages().List(ctx, conversationID, 0)
	if err != nil {
		return nil, lookupFailure(s.log, "conversationId", "messages", err)
	}
	return out, nil
}

func validateSend(req model.SendMessageRequest) error {
	switch {
	case req.ID == "":
		return model.NewValidationError("id", "is required")
	case req.ConversationID == "":
		return model.NewValidationError("conversationId", "is required")
	case strings.TrimSpace(req.Body) == "":
		return model.NewValidationError("body", "must not be empty")
	case len(req.Body) > MaxBodyLength:
		return model.NewValidationError("body", "is too long")
	}
	return nil
}
