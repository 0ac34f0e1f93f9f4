package db

import (
	"context"
	"strings"

	"pairchat/internal/errs"
	"pairchat/internal/models"
)

// Message methods

// AppendMessage persists a message. Membership is the caller's concern.
func (db *DB) AppendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.InvalidArgument, "Message text is required")
	}

	msg := &models.Message{
		ID:             models.NewID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      db.now(),
	}
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.CreatedAt)
	if err != nil {
		return nil, classify(err, "save message")
	}
	return msg, nil
}

// ListMessages returns a conversation's messages oldest first. Ids are
// time-ordered, so they break timestamp ties in insertion order.
func (db *DB) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`), conversationID)
	if err != nil {
		return nil, classify(err, "list messages")
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, classify(err, "scan message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate messages")
	}
	return messages, nil
}
