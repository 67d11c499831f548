package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
	"github.com/itscraftings/converse/internal/store/sqlstore"
	"github.com/itscraftings/converse/internal/subscription"
)

type env struct {
	store         *sqlstore.Store
	bus           *events.Bus
	conversations *ConversationService
	messages      *MessageService
	users         *UserService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	st := sqlstore.New(db, sqlstore.SQLite)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewBus(zerolog.Nop())
	t.Cleanup(bus.Close)
	return &env{
		store:         st,
		bus:           bus,
		conversations: NewConversationService(st, bus, zerolog.Nop()),
		messages:      NewMessageService(st, bus, zerolog.Nop()),
		users:         NewUserService(st, zerolog.Nop()),
	}
}

func (e *env) user(t *testing.T, username string) *model.Session {
	t.Helper()
	u := &model.User{}
	if username != "" {
		u.Username = &username
	}
	created, err := e.store.Users().Create(context.Background(), u)
	require.NoError(t, err)
	return &model.Session{User: model.SessionUser{ID: created.ID, Username: username}, Expires: time.Now().Add(time.Hour)}
}

func (e *env) stream(t *testing.T, topic events.Topic, sess *model.Session) *subscription.Stream {
	t.Helper()
	s, err := subscription.Subscribe(e.bus, topic, sess)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func next(t *testing.T, s *subscription.Stream) events.Payload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p, err := s.Next(ctx)
	require.NoError(t, err)
	return p
}

func nothing(t *testing.T, s *subscription.Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected event %#v", p)
}

func TestCreateConversation_NotifiesParticipantsOnly(t *testing.T) {
	e := newEnv(t)
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	sa := e.stream(t, events.TopicConversationCreated, alice)
	sb := e.stream(t, events.TopicConversationCreated, bob)
	sc := e.stream(t, events.TopicConversationCreated, carol)

	id, err := e.conversations.CreateConversation(context.Background(), alice, []string{bob.User.ID})
	require.NoError(t, err)

	for _, s := range []*subscription.Stream{sa, sb} {
		p := next(t, s)
		assert.Equal(t, id, p.ConversationID())
	}
	nothing(t, sc)

	conv, err := e.store.Conversations().Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, conv.Participants, 2)
	a, _ := conv.ParticipantFor(alice.User.ID)
	b, _ := conv.ParticipantFor(bob.User.ID)
	assert.True(t, a.HasSeenLatestMessage)
	assert.False(t, b.HasSeenLatestMessage)
}

func TestCreateConversation_Validation(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")

	_, err := e.conversations.CreateConversation(context.Background(), nil, []string{alice.User.ID})
	assert.True(t, model.IsAuthorizationError(err))

	_, err = e.conversations.CreateConversation(context.Background(), alice, []string{"ghost"})
	assert.True(t, model.IsValidationError(err))

	id, err := e.conversations.CreateConversation(context.Background(), alice, nil)
	require.NoError(t, err, "a conversation with only the requester is allowed")
	assert.NotEmpty(t, id)
}

func TestSendMessage_FlipsSeenFlagsAndPublishesAfterCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	id, err := e.conversations.CreateConversation(ctx, alice, []string{bob.User.ID, carol.User.ID})
	require.NoError(t, err)

	sent := e.stream(t, events.TopicMessageSent, carol)
	updated := e.stream(t, events.TopicConversationUpdated, carol)

	ok, err := e.messages.SendMessage(ctx, bob, model.SendMessageRequest{ID: "m1", ConversationID: id, SenderID: bob.User.ID, Body: "hi"})
	require.NoError(t, err)
	require.True(t, ok)

	p := next(t, sent).(events.MessageSent)
	assert.Equal(t, "m1", p.Message.ID)
	assert.Equal(t, "bob", p.Message.Sender.Username)
	assert.Len(t, p.Participants, 3)

	// the write is visible by the time the event is observed
	msgs, err := e.store.Messages().List(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	u := next(t, updated).(events.ConversationUpdated)
	conv := u.ConversationUpdated.Conversation
	require.NotNil(t, conv.LatestMessage)
	assert.Equal(t, "m1", conv.LatestMessage.ID)
	for _, part := range conv.Participants {
		assert.Equal(t, part.UserID == bob.User.ID, part.HasSeenLatestMessage, "participant %s", part.User.Username)
	}
}

func TestSendMessage_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, mallory := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "mallory")
	id, err := e.conversations.CreateConversation(ctx, alice, []string{bob.User.ID})
	require.NoError(t, err)

	_, err = e.messages.SendMessage(ctx, nil, model.SendMessageRequest{ID: "m", ConversationID: id, SenderID: alice.User.ID, Body: "x"})
	assert.True(t, model.IsAuthorizationError(err), "no session")

	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m", ConversationID: id, SenderID: bob.User.ID, Body: "x"})
	assert.True(t, model.IsAuthorizationError(err), "spoofed sender")

	_, err = e.messages.SendMessage(ctx, mallory, model.SendMessageRequest{ID: "m", ConversationID: id, SenderID: mallory.User.ID, Body: "x"})
	assert.True(t, model.IsAuthorizationError(err), "non participant")

	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "", ConversationID: id, SenderID: alice.User.ID, Body: "x"})
	assert.True(t, model.IsValidationError(err), "missing id")

	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m", ConversationID: id, SenderID: alice.User.ID, Body: "  "})
	assert.True(t, model.IsValidationError(err), "blank body")

	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m", ConversationID: "nope", SenderID: alice.User.ID, Body: "x"})
	assert.True(t, model.IsNotFoundError(err), "unknown conversation")

	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m", ConversationID: id, SenderID: alice.User.ID, Body: "x"})
	require.NoError(t, err)
	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m", ConversationID: id, SenderID: alice.User.ID, Body: "x"})
	assert.True(t, model.IsConflictError(err), "duplicate id")
}

func TestMarkConversationAsRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	id, err := e.conversations.CreateConversation(ctx, alice, []string{bob.User.ID})
	require.NoError(t, err)
	updated := e.stream(t, events.TopicConversationUpdated, alice)

	for i := 0; i < 2; i++ {
		ok, err := e.conversations.MarkConversationAsRead(ctx, bob, bob.User.ID, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	p, err := e.store.Participants().Get(ctx, id, bob.User.ID)
	require.NoError(t, err)
	assert.True(t, p.HasSeenLatestMessage)
	nothing(t, updated)

	_, err = e.conversations.MarkConversationAsRead(ctx, carol, carol.User.ID, id)
	assert.True(t, model.IsNotFoundError(err))

	_, err = e.conversations.MarkConversationAsRead(ctx, carol, bob.User.ID, id)
	assert.True(t, model.IsAuthorizationError(err))
}

func TestDeleteConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	id, err := e.conversations.CreateConversation(ctx, alice, []string{bob.User.ID})
	require.NoError(t, err)
	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m1", ConversationID: id, SenderID: alice.User.ID, Body: "bye"})
	require.NoError(t, err)

	deleted := e.stream(t, events.TopicConversationDeleted, bob)
	outsider := e.stream(t, events.TopicConversationDeleted, carol)

	_, err = e.conversations.DeleteConversation(ctx, carol, id)
	assert.True(t, model.IsAuthorizationError(err))

	ok, err := e.conversations.DeleteConversation(ctx, bob, id)
	require.NoError(t, err)
	assert.True(t, ok)

	p := next(t, deleted).(events.ConversationDeleted)
	assert.Equal(t, id, p.Conversation.ID)
	assert.Len(t, p.Conversation.Participants, 2)
	nothing(t, outsider)

	_, err = e.conversations.DeleteConversation(ctx, bob, id)
	assert.True(t, model.IsNotFoundError(err))
}

// failingConversations makes Delete fail after the participant check passed.
type failingConversations struct {
	store.Conversations
}

func (failingConversations) Delete(context.Context, string) (*model.ConversationPopulated, error) {
	return nil, errors.New("connection reset")
}

type failingStore struct {
	store.Store
}

func (f failingStore) Conversations() store.Conversations {
	return failingConversations{f.Store.Conversations()}
}

func TestDeleteConversation_StoreFailureIsTransactionError(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	id, err := e.conversations.CreateConversation(ctx, alice, nil)
	require.NoError(t, err)

	deleted := e.stream(t, events.TopicConversationDeleted, alice)
	svc := NewConversationService(failingStore{e.store}, e.bus, zerolog.Nop())
	_, err = svc.DeleteConversation(ctx, alice, id)
	require.Error(t, err)
	assert.True(t, model.IsTransactionError(err))
	assert.Equal(t, "could not delete conversation", err.Error(), "internal details must not leak")
	nothing(t, deleted)
}

func TestConversationsAndMessagesQueries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")
	id, err := e.conversations.CreateConversation(ctx, alice, []string{bob.User.ID})
	require.NoError(t, err)
	_, err = e.messages.SendMessage(ctx, alice, model.SendMessageRequest{ID: "m1", ConversationID: id, SenderID: alice.User.ID, Body: "one"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = e.messages.SendMessage(ctx, bob, model.SendMessageRequest{ID: "m2", ConversationID: id, SenderID: bob.User.ID, Body: "two"})
	require.NoError(t, err)

	convs, err := e.conversations.Conversations(ctx, bob)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LatestMessage)
	assert.Equal(t, "m2", convs[0].LatestMessage.ID)

	convs, err = e.conversations.Conversations(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, convs)

	msgs, err := e.messages.Messages(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "bob", msgs[0].Sender.Username)

	_, err = e.messages.Messages(ctx, carol, id)
	assert.True(t, model.IsAuthorizationError(err))

	_, err = e.conversations.Conversations(ctx, nil)
	assert.True(t, model.IsAuthorizationError(err))
}

func TestCreateUsername(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "taken")
	newbie := e.user(t, "")

	res, err := e.users.CreateUsername(ctx, newbie, "taken")
	require.NoError(t, err)
	assert.Equal(t, ErrUsernameTaken, res.Error)
	u, err := e.store.Users().Get(ctx, newbie.User.ID)
	require.NoError(t, err)
	assert.Nil(t, u.Username, "conflict must not mutate the user")

	res, err = e.users.CreateUsername(ctx, newbie, "fresh.name")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = e.users.CreateUsername(ctx, newbie, "fresh.name")
	require.NoError(t, err)
	assert.True(t, res.Success, "retrying the same name is idempotent")

	me, err := e.users.Me(ctx, newbie)
	require.NoError(t, err)
	require.NotNil(t, me.Username)
	assert.Equal(t, "fresh.name", *me.Username)

	_, err = e.users.CreateUsername(ctx, newbie, "another")
	assert.True(t, model.IsValidationError(err), "username can only be set once")

	_, err = e.users.CreateUsername(ctx, newbie, "x")
	assert.True(t, model.IsValidationError(err))

	_, err = e.users.CreateUsername(ctx, nil, "whatever")
	assert.True(t, model.IsAuthorizationError(err))
}

func TestSearchUsers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "alice")
	e.user(t, "Alicia")
	e.user(t, "bob")
	e.user(t, "")

	got, err := e.users.SearchUsers(ctx, alice, "ALI")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alicia", got[0].Username)

	_, err = e.users.SearchUsers(ctx, alice, " ")
	assert.True(t, model.IsValidationError(err))
}

func TestWithRequester(t *testing.T) {
	assert.Equal(t, []string{"me", "a", "b"}, withRequester([]string{"a", "me", "b", "a", ""}, "me"))
}
