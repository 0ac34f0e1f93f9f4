package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type User struct {
	ID        string    `json:"_id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FullName  string    `json:"fullName" db:"full_name"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// PublicProfile is the part of a User that may appear in API responses.
type PublicProfile struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

func (u *User) Profile() PublicProfile {
	return PublicProfile{ID: u.ID, Email: u.Email, FullName: u.FullName}
}

// Conversation is a two-party relationship. Members is always stored in
// canonical order (see CanonicalMembers).
type Conversation struct {
	ID        string    `json:"_id"`
	Members   [2]string `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Other returns the member that is not userID.
func (c *Conversation) Other(userID string) (string, bool) {
	switch userID {
	case c.Members[0]:
		return c.Members[1], true
	case c.Members[1]:
		return c.Members[0], true
	}
	return "", false
}

type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CanonicalMembers orders a pair of user ids lexicographically so that
// {a,b} and {b,a} are stored and queried identically.
func CanonicalMembers(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

// NewID returns a time-ordered (UUIDv7) identifier. Ids generated later in
// the process sort after earlier ones, which gives messages a stable
// insertion tie-break when timestamps collide.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ValidID reports whether s is a well-formed entity id.
func ValidID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// API views

type MessageView struct {
	ID             string        `json:"_id"`
	ConversationID string        `json:"conversationId"`
	Sender         PublicProfile `json:"senderId"`
	Text           string        `json:"message"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type ConversationView struct {
	User           PublicProfile `json:"user"`
	ConversationID string        `json:"conversationId"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type UserView struct {
	User   PublicProfile `json:"user"`
	UserID string        `json:"userId"`
}

// Request/Response structures
type SignupRequest struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type SigninRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Success bool          `json:"success"`
	User    PublicProfile `json:"user"`
}

type CreateConversationRequest struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
}

type CreateConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
	IsNew        bool          `json:"isNew"`
}

// NewConversationSentinel in SendMessageRequest.ConversationID asks the
// server to find or create the conversation with ReceiverID.
const NewConversationSentinel = "new"

type SendMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	ReceiverID     string `json:"receiverId"`
	Message        string `json:"message"`
}

type OnlineUsersResponse struct {
	UserIDs []string `json:"userIds"`
}

// Realtime events

const (
	EventIdentify        = "identify"
	EventSendRealtime    = "sendRealtime"
	EventTyping          = "typing"
	EventOnlineUsers     = "onlineUsers"
	EventMessageReceived = "messageReceived"
	EventMessageSent     = "messageSent"
	EventUserTyping      = "userTyping"
	EventSystem          = "system"
	EventError           = "error"
)

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundEvent is a client frame whose payload is decoded lazily by type.
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type IdentifyPayload struct {
	UserID string `json:"userId"`
}

type RelayPayload struct {
	ReceiverID string          `json:"receiverId"`
	Message    json.RawMessage `json:"message"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

type NoticePayload struct {
	Message string `json:"message"`
}
