package events

import "github.com/itscraftings/converse/internal/model"

// Payload is implemented by every event body. Each payload type belongs to exactly one topic.
type Payload interface {
	Topic() Topic
	// ConversationID identifies the conversation the event is about.
	ConversationID() string
}

// ConversationCreated is published after a conversation and its participants commit.
type ConversationCreated struct {
	Conversation model.ConversationPopulated `json:"conversation"`
}

func (ConversationCreated) Topic() Topic              { return TopicConversationCreated }
func (e ConversationCreated) ConversationID() string { return e.Conversation.ID }

// UpdatedConversation is the inner envelope of ConversationUpdated.
type UpdatedConversation struct {
	Conversation model.ConversationPopulated `json:"conversation"`
}

// ConversationUpdated wraps the conversation one level deeper than the other
// conversation events: {"conversationUpdated":{"conversation":{...}}}.
type ConversationUpdated struct {
	ConversationUpdated UpdatedConversation `json:"conversationUpdated"`
}

func (ConversationUpdated) Topic() Topic { return TopicConversationUpdated }
func (e ConversationUpdated) ConversationID() string {
	return e.ConversationUpdated.Conversation.ID
}

// NewConversationUpdated builds the nested payload for c.
func NewConversationUpdated(c model.ConversationPopulated) ConversationUpdated {
	return ConversationUpdated{ConversationUpdated: UpdatedConversation{Conversation: c}}
}

// ConversationDeleted carries the snapshot taken in the deleting transaction.
type ConversationDeleted struct {
	Conversation model.ConversationPopulated `json:"conversation"`
}

func (ConversationDeleted) Topic() Topic              { return TopicConversationDeleted }
func (e ConversationDeleted) ConversationID() string { return e.Conversation.ID }

// MessageSent carries the message and the participants of its conversation at send time.
type MessageSent struct {
	Message      model.MessagePopulated `json:"message"`
	Participants []model.Participant    `json:"participants"`
}

func (MessageSent) Topic() Topic              { return TopicMessageSent }
func (e MessageSent) ConversationID() string { return e.Message.ConversationID }
