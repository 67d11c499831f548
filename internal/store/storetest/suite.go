package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	if err := s.HealthPing(ctx); err != nil {
		t.Fatalf("HealthPing: %v", err)
	}

	// Unique test identifiers
	suffix := uuid.NewString()[:8]
	alice := mustUser(t, s, "alice-"+suffix)
	bob := mustUser(t, s, "bob-"+suffix)
	carol := mustUser(t, s, "")

	// Users
	if got, err := s.Users().Get(ctx, alice.ID); err != nil || got.ID != alice.ID || got.Username == nil {
		t.Fatalf("GetUser: got=%v err=%v", got, err)
	}
	if _, err := s.Users().Get(ctx, "missing-"+suffix); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetUser missing: want ErrNotFound, got %v", err)
	}
	if got, err := s.Users().GetByUsername(ctx, "bob-"+suffix); err != nil || got.ID != bob.ID {
		t.Fatalf("GetByUsername: got=%v err=%v", got, err)
	}
	if got, err := s.Users().Ensure(ctx, &model.User{ID: alice.ID}); err != nil || got.Username == nil || *got.Username != *alice.Username {
		t.Fatalf("Ensure existing user must keep row: got=%v err=%v", got, err)
	}

	// Usernames: storage enforces uniqueness
	if err := s.Users().SetUsername(ctx, carol.ID, "bob-"+suffix); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("SetUsername taken: want ErrConflict, got %v", err)
	}
	if got, _ := s.Users().Get(ctx, carol.ID); got == nil || got.Username != nil {
		t.Fatalf("SetUsername conflict must not mutate user: %v", got)
	}
	if err := s.Users().SetUsername(ctx, carol.ID, "Carol_"+suffix); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	if err := s.Users().SetUsername(ctx, carol.ID, "other-"+suffix); !model.IsValidationError(err) {
		t.Fatalf("SetUsername twice: want ValidationError, got %v", err)
	}

	// Search: case-insensitive substring, excludes requester
	found, err := s.Users().Search(ctx, "CAROL_"+suffix[:4], alice.ID, 20)
	if err != nil || len(found) != 1 || found[0].ID != carol.ID {
		t.Fatalf("Search: got=%v err=%v", found, err)
	}
	found, err = s.Users().Search(ctx, suffix, alice.ID, 20)
	if err != nil {
		t.Fatalf("Search suffix: %v", err)
	}
	for _, u := range found {
		if u.ID == alice.ID {
			t.Fatalf("Search must exclude requester: %v", found)
		}
	}
	if len(found) != 2 {
		t.Fatalf("Search suffix: want bob and carol, got %v", found)
	}
	if found, err := s.Users().Search(ctx, "%", alice.ID, 20); err != nil || len(found) != 0 {
		t.Fatalf("Search must treat %% literally: got=%v err=%v", found, err)
	}

	// Conversations
	conv, err := s.Conversations().Create(ctx, []string{alice.ID, bob.ID, alice.ID}, alice.ID)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if len(conv.Participants) != 2 {
		t.Fatalf("CreateConversation: want 2 participants, got %d", len(conv.Participants))
	}
	for _, p := range conv.Participants {
		want := p.UserID == alice.ID
		if p.HasSeenLatestMessage != want {
			t.Fatalf("participant %s hasSeen=%v want %v", p.UserID, p.HasSeenLatestMessage, want)
		}
		if p.User.ID != p.UserID || p.User.Username == "" {
			t.Fatalf("participant user not populated: %+v", p)
		}
	}
	if conv.LatestMessage != nil {
		t.Fatalf("new conversation has a latest message")
	}
	if _, err := s.Conversations().Create(ctx, []string{alice.ID, "ghost-" + suffix}, alice.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("CreateConversation with unknown user: want ErrNotFound, got %v", err)
	}

	other, err := s.Conversations().Create(ctx, []string{carol.ID}, carol.ID)
	if err != nil {
		t.Fatalf("CreateConversation carol: %v", err)
	}

	list, err := s.Conversations().ListForUser(ctx, bob.ID)
	if err != nil || len(list) != 1 || list[0].ID != conv.ID {
		t.Fatalf("ListForUser bob: got=%v err=%v", list, err)
	}

	// Messages
	time.Sleep(5 * time.Millisecond)
	res, err := s.Messages().Send(ctx, model.SendMessageRequest{ID: "m1-" + suffix, ConversationID: conv.ID, SenderID: bob.ID, Body: "hello"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Message.Sender.ID != bob.ID || res.Message.Body != "hello" {
		t.Fatalf("SendMessage result: %+v", res.Message)
	}
	if res.Conversation.LatestMessage == nil || res.Conversation.LatestMessage.ID != "m1-"+suffix {
		t.Fatalf("SendMessage must move latest message: %+v", res.Conversation.LatestMessage)
	}
	if !res.Conversation.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatalf("SendMessage must bump updatedAt: before=%v after=%v", conv.UpdatedAt, res.Conversation.UpdatedAt)
	}
	for _, p := range res.Conversation.Participants {
		want := p.UserID == bob.ID
		if p.HasSeenLatestMessage != want {
			t.Fatalf("after send participant %s hasSeen=%v want %v", p.UserID, p.HasSeenLatestMessage, want)
		}
	}
	if _, err := s.Messages().Send(ctx, model.SendMessageRequest{ID: "m1-" + suffix, ConversationID: conv.ID, SenderID: bob.ID, Body: "again"}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("SendMessage duplicate id: want ErrConflict, got %v", err)
	}
	if _, err := s.Messages().Send(ctx, model.SendMessageRequest{ID: "m-x-" + suffix, ConversationID: "nope-" + suffix, SenderID: bob.ID, Body: "x"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("SendMessage unknown conversation: want ErrNotFound, got %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Messages().Send(ctx, model.SendMessageRequest{ID: "m2-" + suffix, ConversationID: conv.ID, SenderID: alice.ID, Body: "hi bob"}); err != nil {
		t.Fatalf("SendMessage m2: %v", err)
	}
	msgs, err := s.Messages().List(ctx, conv.ID, 0)
	if err != nil || len(msgs) != 2 || msgs[0].ID != "m2-"+suffix {
		t.Fatalf("ListMessages newest first: got=%v err=%v", msgs, err)
	}
	if msgs, err := s.Messages().List(ctx, conv.ID, 1); err != nil || len(msgs) != 1 {
		t.Fatalf("ListMessages limit: n=%d err=%v", len(msgs), err)
	}

	// Mark as read
	if err := s.Participants().MarkRead(ctx, conv.ID, bob.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := s.Participants().MarkRead(ctx, conv.ID, bob.ID); err != nil {
		t.Fatalf("MarkRead twice: %v", err)
	}
	if p, err := s.Participants().Get(ctx, conv.ID, bob.ID); err != nil || !p.HasSeenLatestMessage {
		t.Fatalf("MarkRead state: got=%v err=%v", p, err)
	}
	if err := s.Participants().MarkRead(ctx, conv.ID, carol.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("MarkRead non participant: want ErrNotFound, got %v", err)
	}

	// Delete cascades
	snap, err := s.Conversations().Delete(ctx, conv.ID)
	if err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if snap.ID != conv.ID || len(snap.Participants) != 2 {
		t.Fatalf("DeleteConversation snapshot: %+v", snap)
	}
	if _, err := s.Conversations().Get(ctx, conv.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get after delete: want ErrNotFound, got %v", err)
	}
	if msgs, err := s.Messages().List(ctx, conv.ID, 0); err != nil || len(msgs) != 0 {
		t.Fatalf("messages survive delete: n=%d err=%v", len(msgs), err)
	}
	if _, err := s.Participants().Get(ctx, conv.ID, alice.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("participants survive delete: %v", err)
	}
	if _, err := s.Conversations().Delete(ctx, conv.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Delete missing: want ErrNotFound, got %v", err)
	}
	if got, err := s.Conversations().Get(ctx, other.ID); err != nil || got.ID != other.ID {
		t.Fatalf("unrelated conversation affected: got=%v err=%v", got, err)
	}
}

func mustUser(t *testing.T, s store.Store, username string) *model.User {
	t.Helper()
	u := &model.User{}
	if username != "" {
		u.Username = &username
	}
	out, err := s.Users().Create(context.Background(), u)
	if err != nil {
		t.Fatalf("CreateUser %q: %v", username, err)
	}
	return out
}
