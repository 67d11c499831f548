package model

import "time"

// User represents an account known to the chat service.
// Username is nil until the user claims one.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  *string   `json:"username,omitempty" db:"username"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Name      *string   `json:"name,omitempty" db:"name"`
	Image     *string   `json:"image,omitempty" db:"image"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// SearchedUser is the public projection of a user embedded in other records.
type SearchedUser struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}

// Conversation groups participants and their messages.
type Conversation struct {
	ID              string    `json:"id" db:"id"`
	LatestMessageID *string   `json:"latestMessageId,omitempty" db:"latest_message_id"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

// Participant links a user to a conversation and carries the user's read state.
type Participant struct {
	ID                   string `json:"id" db:"id"`
	ConversationID       string `json:"conversationId" db:"conversation_id"`
	UserID               string `json:"userId" db:"user_id"`
	HasSeenLatestMessage bool   `json:"hasSeenLatestMessage" db:"has_seen_latest_message"`
}

// Message is immutable once written.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"`
	SenderID       string    `json:"senderId" db:"sender_id"`
	Body           string    `json:"body" db:"body"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// ParticipantPopulated is a participant together with its user.
type ParticipantPopulated struct {
	Participant
	User SearchedUser `json:"user" db:"user"`
}

// MessagePopulated is a message together with its sender.
type MessagePopulated struct {
	Message
	Sender SearchedUser `json:"sender" db:"sender"`
}

// ConversationPopulated is a conversation fetched with its participants and latest message.
type ConversationPopulated struct {
	Conversation
	Participants  []ParticipantPopulated `json:"participants"`
	LatestMessage *MessagePopulated      `json:"latestMessage,omitempty"`
}

// ParticipantFor returns the participant row for userID, if any.
func (c *ConversationPopulated) ParticipantFor(userID string) (ParticipantPopulated, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return ParticipantPopulated{}, false
}

// Participants of a conversation as plain rows.
func (c *ConversationPopulated) ParticipantRows() []Participant {
	out := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.Participant)
	}
	return out
}

// SessionUser is the identity carried by a session.
type SessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Session identifies the caller. A nil *Session means unauthenticated.
type Session struct {
	User    SessionUser `json:"user"`
	Expires time.Time   `json:"expires"`
}

// UserID returns the session user id, or "" for a nil session.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// CreateUsernameResponse is the structured result of claiming a username.
// Error is set for expected, user-correctable failures such as a taken name.
type CreateUsernameResponse struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SendMessageRequest carries the client-generated message id.
type SendMessageRequest struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
}
