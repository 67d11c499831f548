package store

import (
	"context"

	"github.com/itscraftings/converse/internal/model"
)

// Store exposes persistence operations required by services.
// The SQL implementation lives under internal/store/sqlstore.
//
// Missing rows are reported as wrapped model.ErrNotFound and unique-constraint
// violations as wrapped model.ErrConflict.
type Store interface {
	Users() Users
	Conversations() Conversations
	Participants() Participants
	Messages() Messages
	// HealthPing reports whether the backing database answers.
	HealthPing(ctx context.Context) error
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	// Ensure inserts u unless a user with the same id already exists, then returns the stored row.
	Ensure(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetUsername sets the username of a user that has none.
	SetUsername(ctx context.Context, userID, username string) error
	// Search matches username case-insensitively by substring, skipping excludeUserID
	// and users without a username.
	Search(ctx context.Context, substring, excludeUserID string, limit int) ([]model.SearchedUser, error)
}

type Conversations interface {
	// Create writes the conversation and all participant rows in one transaction.
	// creatorID's participant row starts as seen, every other one as unseen.
	Create(ctx context.Context, participantIDs []string, creatorID string) (*model.ConversationPopulated, error)
	Get(ctx context.Context, conversationID string) (*model.ConversationPopulated, error)
	ListForUser(ctx context.Context, userID string) ([]model.ConversationPopulated, error)
	// Delete removes the conversation with its participants and messages atomically
	// and returns the snapshot read inside the same transaction.
	Delete(ctx context.Context, conversationID string) (*model.ConversationPopulated, error)
}

type Participants interface {
	Get(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	// MarkRead flips has_seen_latest_message to true for one participant.
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// SendResult is what a committed message send produced.
type SendResult struct {
	Message      model.MessagePopulated
	Conversation model.ConversationPopulated
}

type Messages interface {
	// Send inserts the message, points the conversation at it and marks every
	// participant except the sender unseen, in one transaction.
	Send(ctx context.Context, req model.SendMessageRequest) (*SendResult, error)
	// List returns the conversation's messages newest first.
	List(ctx context.Context, conversationID string, limit int) ([]model.MessagePopulated, error)
}
