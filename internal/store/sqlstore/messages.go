package sqlstore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/itscraftings/converse/internal/events"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
)

const defaultMessageLimit = 100

type messages struct{ s *Store }

func (m *messages) Send(ctx context.Context, req model.SendMessageRequest) (*store.SendResult, error) {
	var out *store.SendResult
	err := m.s.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists string
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT id FROM conversations WHERE id = ?`), req.ConversationID); err != nil {
			return classify("get conversation", err)
		}

		now := m.s.timestamp()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
            INSERT INTO messages (id, conversation_id, sender_id, body, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
        `), req.ID, req.ConversationID, req.SenderID, req.Body, now, now); err != nil {
			return classify("insert message", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
            UPDATE conversations SET latest_message_id = ?, updated_at = ? WHERE id = ?
        `), req.ID, now, req.ConversationID); err != nil {
			return classify("update conversation", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
            UPDATE participants
            SET has_seen_latest_message = CASE WHEN user_id = ? THEN TRUE ELSE FALSE END
            WHERE conversation_id = ?
        `), req.SenderID, req.ConversationID); err != nil {
			return classify("update participants", err)
		}

		var msg model.MessagePopulated
		if err := tx.GetContext(ctx, &msg, tx.Rebind(selectMessages+` WHERE m.id = ?`), req.ID); err != nil {
			return classify("load message", err)
		}
		conv, err := getPopulated(ctx, tx, req.ConversationID)
		if err != nil {
			return err
		}

		if err := m.s.writeOutbox(ctx, tx,
			events.MessageSent{Message: msg, Participants: conv.ParticipantRows()},
			events.NewConversationUpdated(*conv),
		); err != nil {
			return err
		}
		out = &store.SendResult{Message: msg, Conversation: *conv}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *messages) List(ctx context.Context, conversationID string, limit int) ([]model.MessagePopulated, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	out := []model.MessagePopulated{}
	err := m.s.db.SelectContext(ctx, &out, m.s.db.Rebind(selectMessages+`
        WHERE m.conversation_id = ?
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT ?
    `), conversationID, limit)
	if err != nil {
		return nil, classify("list messages", err)
	}
	return out, nil
}

type participants struct{ s *Store }

func (p *participants) Get(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	var out model.Participant
	err := p.s.db.GetContext(ctx, &out, p.s.db.Rebind(`
        SELECT id, conversation_id, user_id, has_seen_latest_message
        FROM participants WHERE conversation_id = ? AND user_id = ?
    `), conversationID, userID)
	if err != nil {
		return nil, classify("get participant", err)
	}
	return &out, nil
}

func (p *participants) MarkRead(ctx context.Context, conversationID, userID string) error {
	res, err := p.s.db.ExecContext(ctx, p.s.db.Rebind(`
        UPDATE participants SET has_seen_latest_message = TRUE
        WHERE conversation_id = ? AND user_id = ?
    `), conversationID, userID)
	if err != nil {
		return classify("mark read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("mark read", err)
	}
	if n == 0 {
		return classify("mark read", sql.ErrNoRows)
	}
	return nil
}
