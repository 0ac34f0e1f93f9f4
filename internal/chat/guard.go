package chat

import (
	"pairchat/internal/errs"
	"pairchat/internal/models"
)

// IsMember reports whether userID is one of the conversation's two members.
func IsMember(conv *models.Conversation, userID string) bool {
	if conv == nil || userID == "" {
		return false
	}
	return conv.Members[0] == userID || conv.Members[1] == userID
}

// Authorize fails with errs.Forbidden unless userID belongs to conv. Every
// read or write of a conversation's messages passes through it.
func Authorize(conv *models.Conversation, userID string) error {
	if !IsMember(conv, userID) {
		return errs.New(errs.Forbidden, "You are not a member of this conversation")
	}
	return nil
}
