package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
)

const (
	selectConversation = `SELECT c.id, c.latest_message_id, c.created_at, c.updated_at FROM conversations c`

	selectParticipants = `
        SELECT p.id, p.conversation_id, p.user_id, p.has_seen_latest_message,
               u.id AS "user.id", COALESCE(u.username, '') AS "user.username"
        FROM participants p JOIN users u ON u.id = p.user_id
        WHERE p.conversation_id IN (?)
        ORDER BY p.conversation_id, u.id`

	selectMessages = `
        SELECT m.id, m.conversation_id, m.sender_id, m.body, m.created_at, m.updated_at,
               u.id AS "sender.id", COALESCE(u.username, '') AS "sender.username"
        FROM messages m JOIN users u ON u.id = m.sender_id`
)

type conversations struct{ s *Store }

func (c *conversations) Create(ctx context.Context, participantIDs []string, creatorID string) (*model.ConversationPopulated, error) {
	ids := dedupe(participantIDs)
	if len(ids) == 0 {
		return nil, model.NewValidationError("participantIds", "at least one participant is required")
	}

	var out *model.ConversationPopulated
	err := c.s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireUsers(ctx, tx, ids); err != nil {
			return err
		}

		now := c.s.timestamp()
		convID := uuid.NewString()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
            INSERT INTO conversations (id, latest_message_id, created_at, updated_at)
            VALUES (?, NULL, ?, ?)
        `), convID, now, now); err != nil {
			return classify("insert conversation", err)
		}
		for _, userID := range ids {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
                INSERT INTO participants (id, conversation_id, user_id, has_seen_latest_message)
                VALUES (?, ?, ?, ?)
            `), uuid.NewString(), convID, userID, userID == creatorID); err != nil {
				return classify("insert participant", err)
			}
		}

		conv, err := getPopulated(ctx, tx, convID)
		if err != nil {
			return err
		}
		if err := c.s.writeOutbox(ctx, tx, events.ConversationCreated{Conversation: *conv}); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.ConversationPopulated, error) {
	return getPopulated(ctx, c.s.db, conversationID)
}

func (c *conversations) ListForUser(ctx context.Context, userID string) ([]model.ConversationPopulated, error) {
	var rows []model.Conversation
	err := c.s.db.SelectContext(ctx, &rows, c.s.db.Rebind(selectConversation+`
        JOIN participants p ON p.conversation_id = c.id
        WHERE p.user_id = ?
        ORDER BY c.updated_at DESC, c.id
    `), userID)
	if err != nil {
		return nil, classify("list conversations", err)
	}
	return populate(ctx, c.s.db, rows)
}

func (c *conversations) Delete(ctx context.Context, conversationID string) (*model.ConversationPopulated, error) {
	var snapshot *model.ConversationPopulated
	err := c.s.inTx(ctx, func(tx *sqlx.Tx) error {
		conv, err := getPopulated(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		// children first so foreign keys hold at every step
		for _, stmt := range []string{
			`DELETE FROM messages WHERE conversation_id = ?`,
			`DELETE FROM participants WHERE conversation_id = ?`,
			`DELETE FROM conversations WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), conversationID); err != nil {
				return classify("delete conversation", err)
			}
		}

		if err := c.s.writeOutbox(ctx, tx, events.ConversationDeleted{Conversation: *conv}); err != nil {
			return err
		}
		snapshot = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func getPopulated(ctx context.Context, q sqlx.ExtContext, conversationID string) (*model.ConversationPopulated, error) {
	var row model.Conversation
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(selectConversation+` WHERE c.id = ?`), conversationID); err != nil {
		return nil, classify("get conversation", err)
	}
	out, err := populate(ctx, q, []model.Conversation{row})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// populate attaches participants and latest messages to rows, preserving row order.
func populate(ctx context.Context, q sqlx.ExtContext, rows []model.Conversation) ([]model.ConversationPopulated, error) {
	out := make([]model.ConversationPopulated, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(rows))
	var latestIDs []string
	for i, r := range rows {
		out[i] = model.ConversationPopulated{Conversation: r, Participants: []model.ParticipantPopulated{}}
		ids = append(ids, r.ID)
		if r.LatestMessageID != nil {
			latestIDs = append(latestIDs, *r.LatestMessageID)
		}
	}

	query, args, err := sqlx.In(selectParticipants, ids)
	if err != nil {
		return nil, err
	}
	var parts []model.ParticipantPopulated
	if err := sqlx.SelectContext(ctx, q, &parts, q.Rebind(query), args...); err != nil {
		return nil, classify("load participants", err)
	}
	byConv := make(map[string][]model.ParticipantPopulated, len(rows))
	for _, p := range parts {
		byConv[p.ConversationID] = append(byConv[p.ConversationID], p)
	}

	latest := map[string]model.MessagePopulated{}
	if len(latestIDs) > 0 {
		query, args, err := sqlx.In(selectMessages+` WHERE m.id IN (?)`, latestIDs)
		if err != nil {
			return nil, err
		}
		var msgs []model.MessagePopulated
		if err := sqlx.SelectContext(ctx, q, &msgs, q.Rebind(query), args...); err != nil {
			return nil, classify("load latest messages", err)
		}
		for _, m := range msgs {
			latest[m.ID] = m
		}
	}

	for i := range out {
		if ps, ok := byConv[out[i].ID]; ok {
			out[i].Participants = ps
		}
		if id := out[i].LatestMessageID; id != nil {
			if m, ok := latest[*id]; ok {
				out[i].LatestMessage = &m
			}
		}
	}
	return out, nil
}

func requireUsers(ctx context.Context, q sqlx.ExtContext, ids []string) error {
	query, args, err := sqlx.In(`SELECT id FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	var found []string
	if err := sqlx.SelectContext(ctx, q, &found, q.Rebind(query), args...); err != nil {
		return classify("check users", err)
	}
	seen := make(map[string]bool, len(found))
	for _, id := range found {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
