// Package reconcile keeps a client's view of its conversations and messages in
// step with its own writes and the events it receives.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
)

// Cache is safe for concurrent use. Conversations are kept most recently
// updated first and each conversation's messages newest first.
type Cache struct {
	mu sync.Mutex

	user          model.SessionUser
	open          string
	conversations []model.ConversationPopulated
	messages      map[string][]model.MessagePopulated
	// pending holds optimistic message ids awaiting server confirmation.
	pending map[string]bool
	now     func() time.Time
}

// New returns an empty cache for the local user.
func New(user model.SessionUser) *Cache {
	return &Cache{
		user:     user,
		messages: make(map[string][]model.MessagePopulated),
		pending:  make(map[string]bool),
		now:      time.Now,
	}
}

// UserID returns the local user id.
func (c *Cache) UserID() string { return c.user.ID }

// ReplaceConversations loads the conversation list fetched from the server.
func (c *Cache) ReplaceConversations(list []model.ConversationPopulated) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = append([]model.ConversationPopulated(nil), list...)
	c.sortConversations()
}

// ReplaceMessages loads a conversation's messages fetched from the server.
// Optimistic messages the server does not know about yet are kept.
func (c *Cache) ReplaceMessages(conversationID string, list []model.MessagePopulated) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]model.MessagePopulated(nil), list...)
	known := make(map[string]bool, len(list))
	for _, m := range list {
		known[m.ID] = true
		delete(c.pending, m.ID)
	}
	for _, m := range c.messages[conversationID] {
		if c.pending[m.ID] && !known[m.ID] {
			out = append(out, m)
		}
	}
	sortMessages(out)
	c.messages[conversationID] = out
}

// Conversations returns a copy of the conversation list.
func (c *Cache) Conversations() []model.ConversationPopulated {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ConversationPopulated(nil), c.conversations...)
}

// Conversation returns one cached conversation.
func (c *Cache) Conversation(id string) (model.ConversationPopulated, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		return c.conversations[i], true
	}
	return model.ConversationPopulated{}, false
}

// Messages returns a copy of a conversation's messages, newest first.
func (c *Cache) Messages(conversationID string) []model.MessagePopulated {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.MessagePopulated(nil), c.messages[conversationID]...)
}

// Pending reports whether messageID is an unconfirmed optimistic message.
func (c *Cache) Pending(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[messageID]
}

// Open marks conversationID as the one on screen ("" closes it). It reports
// whether the local user still has to mark it read.
func (c *Cache) Open(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = conversationID
	return c.unseenLocked(conversationID)
}

// OpenConversation returns the conversation on screen, if any.
func (c *Cache) OpenConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// AddOptimisticMessage shows a locally sent message before the server confirms it.
func (c *Cache) AddOptimisticMessage(req model.SendMessageRequest) model.MessagePopulated {
	now := c.now().UTC()
	m := model.MessagePopulated{
		Message: model.Message{
			ID:             req.ID,
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Body:           req.Body,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		Sender: model.SearchedUser{ID: c.user.ID, Username: c.user.Username},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[m.ID] = true
	c.upsertMessageLocked(m)
	return m
}

// ConfirmMessage records that the server committed an optimistic message.
func (c *Cache) ConfirmMessage(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, messageID)
}

// RollbackMessage removes an optimistic message whose send failed.
func (c *Cache) RollbackMessage(conversationID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, messageID)
	list := c.messages[conversationID]
	for i, m := range list {
		if m.ID == messageID {
			c.messages[conversationID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ApplyMessageSent merges a MESSAGE_SENT event. A message already in the cache
// is replaced by the server's copy; an unknown message from the local user is
// skipped because this client either shows it optimistically or sent it from
// another device and will see it on the next fetch. It reports whether the
// cache changed.
func (c *Cache) ApplyMessageSent(e events.MessageSent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := e.Message
	if c.hasMessageLocked(m.ConversationID, m.ID) {
		delete(c.pending, m.ID)
		c.upsertMessageLocked(m)
		return true
	}
	if m.Sender.ID == c.user.ID || m.SenderID == c.user.ID {
		return false
	}
	c.upsertMessageLocked(m)
	return true
}

// ApplyConversationCreated adds a new conversation to the top of the list.
func (c *Cache) ApplyConversationCreated(e events.ConversationCreated) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertConversationLocked(e.Conversation)
}

// ApplyConversationUpdated replaces the cached conversation. It reports whether
// the conversation is open and the local user has not seen its latest message,
// in which case the caller should mark it read.
func (c *Cache) ApplyConversationUpdated(e events.ConversationUpdated) bool {
	conv := e.ConversationUpdated.Conversation
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertConversationLocked(conv)
	return conv.ID == c.open && c.unseenLocked(conv.ID)
}

// ApplyConversationDeleted drops the conversation and its messages.
func (c *Cache) ApplyConversationDeleted(e events.ConversationDeleted) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := e.Conversation.ID
	if i := c.indexOf(id); i >= 0 {
		c.conversations = append(c.conversations[:i:i], c.conversations[i+1:]...)
	}
	for _, m := range c.messages[id] {
		delete(c.pending, m.ID)
	}
	delete(c.messages, id)
	if c.open == id {
		c.open = ""
	}
}

// Apply dispatches any bus payload. It returns the conversation id to mark
// read, or "".
func (c *Cache) Apply(p events.Payload) string {
	switch e := p.(type) {
	case events.MessageSent:
		c.ApplyMessageSent(e)
	case events.ConversationCreated:
		c.ApplyConversationCreated(e)
	case events.ConversationUpdated:
		if c.ApplyConversationUpdated(e) {
			return e.ConversationID()
		}
	case events.ConversationDeleted:
		c.ApplyConversationDeleted(e)
	}
	return ""
}

// MarkRead sets the local user's read flag. It reports whether the flag changed,
// so callers can skip a redundant server call.
func (c *Cache) MarkRead(conversationID string) bool {
	return c.setSeen(conversationID, true)
}

// MarkUnread reverts an optimistic MarkRead after the server rejected it.
func (c *Cache) MarkUnread(conversationID string) {
	c.setSeen(conversationID, false)
}

func (c *Cache) setSeen(conversationID string, seen bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(conversationID)
	if i < 0 {
		return false
	}
	conv := c.conversations[i]
	parts := append([]model.ParticipantPopulated(nil), conv.Participants...)
	for j := range parts {
		if parts[j].UserID == c.user.ID && parts[j].HasSeenLatestMessage != seen {
			parts[j].HasSeenLatestMessage = seen
			conv.Participants = parts
			c.conversations[i] = conv
			return true
		}
	}
	return false
}

func (c *Cache) unseenLocked(conversationID string) bool {
	i := c.indexOf(conversationID)
	if i < 0 {
		return false
	}
	p, ok := c.conversations[i].ParticipantFor(c.user.ID)
	return ok && !p.HasSeenLatestMessage
}

func (c *Cache) indexOf(conversationID string) int {
	for i, conv := range c.conversations {
		if conv.ID == conversationID {
			return i
		}
	}
	return -1
}

func (c *Cache) upsertConversationLocked(conv model.ConversationPopulated) {
	if i := c.indexOf(conv.ID); i >= 0 {
		// Out-of-order deliveries must not roll back a newer copy.
		if conv.UpdatedAt.Before(c.conversations[i].UpdatedAt) {
			return
		}
		c.conversations[i] = conv
	} else {
		c.conversations = append([]model.ConversationPopulated{conv}, c.conversations...)
	}
	c.sortConversations()
}

func (c *Cache) hasMessageLocked(conversationID, messageID string) bool {
	for _, m := range c.messages[conversationID] {
		if m.ID == messageID {
			return true
		}
	}
	return false
}

func (c *Cache) upsertMessageLocked(m model.MessagePopulated) {
	list := c.messages[m.ConversationID]
	for i := range list {
		if list[i].ID == m.ID {
			out := append([]model.MessagePopulated(nil), list...)
			out[i] = m
			sortMessages(out)
			c.messages[m.ConversationID] = out
			return
		}
	}
	out := append([]model.MessagePopulated{m}, list...)
	sortMessages(out)
	c.messages[m.ConversationID] = out
}

func (c *Cache) sortConversations() {
	sort.SliceStable(c.conversations, func(i, j int) bool {
		return c.conversations[i].UpdatedAt.After(c.conversations[j].UpdatedAt)
	})
}

func sortMessages(list []model.MessagePopulated) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
