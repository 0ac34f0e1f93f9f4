package db

import (
	"context"
	"database/sql"
	"errors"

	"pairchat/internal/errs"
	"pairchat/internal/models"
)

// Conversation methods

const conversationColumns = "id, member_a, member_b, created_at, updated_at"

func scanConversation(row interface{ Scan(...interface{}) error }) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(&conv.ID, &conv.Members[0], &conv.Members[1], &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

// FindConversationByMembers returns the conversation between a and b, or
// nil when there is none.
func (db *DB) FindConversationByMembers(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, errs.New(errs.InvalidArgument, "Cannot create conversation with yourself")
	}
	members := models.CanonicalMembers(a, b)

	conv, err := scanConversation(db.QueryRowContext(ctx, db.rebind(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE member_a = ? AND member_b = ?
	`), members[0], members[1]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err, "find conversation")
	}
	return conv, nil
}

// CreateConversation inserts a conversation for the pair. It does not look
// for an existing one first; a second insert for the same pair fails with
// errs.Conflict.
func (db *DB) CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, errs.New(errs.InvalidArgument, "Cannot create conversation with yourself")
	}
	members := models.CanonicalMembers(a, b)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err, "begin transaction")
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, db.rebind(
		"SELECT COUNT(*) FROM users WHERE id IN (?, ?)"), members[0], members[1]).Scan(&count)
	if err != nil {
		return nil, classify(err, "resolve members")
	}
	if count != 2 {
		return nil, errs.New(errs.InvalidArgument, "One or both users not found")
	}

	now := db.now()
	conv := &models.Conversation{
		ID:        models.NewID(),
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx, db.rebind(`
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`), conv.ID, members[0], members[1], conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, classify(err, "create conversation")
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "commit conversation")
	}
	return conv, nil
}

// TouchConversation bumps updated_at to now.
func (db *DB) TouchConversation(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, db.rebind(
		"UPDATE conversations SET updated_at = ? WHERE id = ?"), db.now(), id)
	if err != nil {
		return classify(err, "touch conversation")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify(err, "touch conversation")
	}
	if n == 0 {
		return errs.New(errs.NotFound, "Conversation not found")
	}
	return nil
}

// GetConversation returns the conversation with id, or nil.
func (db *DB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx, db.rebind(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err, "get conversation")
	}
	return conv, nil
}

// ListConversationsForMember returns every conversation containing
// userID, in no particular order.
func (db *DB) ListConversationsForMember(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE member_a = ? OR member_b = ?
	`), userID, userID)
	if err != nil {
		return nil, classify(err, "list conversations")
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, classify(err, "scan conversation")
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate conversations")
	}
	return conversations, nil
}
