// Package chat composes the identity directory, conversation store and
// message store into the conversation and message operations served by
// the HTTP API.
package chat

import (
	"context"
	"sort"
	"strings"

	"pairchat/internal/errs"
	"pairchat/internal/logging"
	"pairchat/internal/metrics"
	"pairchat/internal/models"
)

type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsersExcept(ctx context.Context, excludeID string) ([]*models.User, error)
}

type ConversationStore interface {
	FindConversationByMembers(ctx context.Context, a, b string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsForMember(ctx context.Context, userID string) ([]*models.Conversation, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

type Service struct {
	users         UserDirectory
	conversations ConversationStore
	messages      MessageStore
}

func NewService(users UserDirectory, conversations ConversationStore, messages MessageStore) *Service {
	return &Service{
		users:         users,
		conversations: conversations,
		messages:      messages,
	}
}

// CreateConversation returns the conversation between senderID and
// receiverID, creating it when absent. isNew reports whether this call
// created it.
func (s *Service) CreateConversation(ctx context.Context, senderID, receiverID string) (*models.Conversation, bool, error) {
	if senderID == "" || receiverID == "" {
		return nil, false, errs.New(errs.InvalidArgument, "Sender and receiver required")
	}
	if senderID == receiverID {
		return nil, false, errs.New(errs.InvalidArgument, "Cannot create conversation with yourself")
	}
	if !models.ValidID(senderID) || !models.ValidID(receiverID) {
		return nil, false, errs.New(errs.InvalidArgument, "Invalid user ID format")
	}
	for _, id := range []string{senderID, receiverID} {
		if _, err := s.users.GetUserByID(ctx, id); err != nil {
			if errs.Is(err, errs.NotFound) {
				return nil, false, errs.New(errs.NotFound, "One or both users not found")
			}
			return nil, false, err
		}
	}

	return s.findOrCreate(ctx, senderID, receiverID)
}

// findOrCreate closes the find-then-create race with the store's unique
// member pair: a losing concurrent insert comes back as errs.Conflict and
// is answered with the winner's conversation.
func (s *Service) findOrCreate(ctx context.Context, a, b string) (*models.Conversation, bool, error) {
	conv, err := s.conversations.FindConversationByMembers(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		return conv, false, nil
	}

	conv, err = s.conversations.CreateConversation(ctx, a, b)
	if err == nil {
		metrics.ConversationsCreated.Inc()
		return conv, true, nil
	}
	if !errs.Is(err, errs.Conflict) {
		return nil, false, err
	}

	metrics.ConversationCreateConflicts.Inc()
	logging.Ctx(ctx).Debug().Str("component", "chat").Msg("Concurrent conversation create, using existing")

	conv, err = s.conversations.FindConversationByMembers(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, errs.New(errs.Internal, "conversation vanished after conflict")
	}
	return conv, false, nil
}

// ListConversationsForUser returns userID's conversations, most recently
// active first, each carrying the other member's profile.
func (s *Service) ListConversationsForUser(ctx context.Context, userID string) ([]models.ConversationView, error) {
	if !models.ValidID(userID) {
		return nil, errs.New(errs.InvalidArgument, "Invalid user ID format")
	}
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	convs, err := s.conversations.ListConversationsForMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	views := make([]models.ConversationView, 0, len(convs))
	for _, conv := range convs {
		otherID, ok := conv.Other(userID)
		if !ok {
			continue
		}
		other, err := s.users.GetUserByID(ctx, otherID)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				logging.Ctx(ctx).Warn().
					Str("component", "chat").
					Str("conversation_id", conv.ID).
					Str("member_id", otherID).
					Msg("Dropping conversation with unresolved member")
				continue
			}
			return nil, err
		}
		views = append(views, models.ConversationView{
			User:           other.Profile(),
			ConversationID: conv.ID,
			CreatedAt:      conv.CreatedAt,
			UpdatedAt:      conv.UpdatedAt,
		})
	}
	return views, nil
}

// SendMessage persists a message from senderID. With the "new" sentinel
// the conversation with req.ReceiverID is found or created first.
func (s *Service) SendMessage(ctx context.Context, senderID string, req models.SendMessageRequest) (*models.MessageView, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errs.New(errs.InvalidArgument, "Message text is required")
	}
	sender, err := s.users.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, err
	}

	var conv *models.Conversation
	if req.ConversationID == models.NewConversationSentinel {
		if req.ReceiverID == "" {
			return nil, errs.New(errs.InvalidArgument, "receiverId is required")
		}
		if !models.ValidID(req.ReceiverID) {
			return nil, errs.New(errs.InvalidArgument, "Invalid receiverId")
		}
		if req.ReceiverID == senderID {
			return nil, errs.New(errs.InvalidArgument, "Cannot create conversation with yourself")
		}
		if _, err := s.users.GetUserByID(ctx, req.ReceiverID); err != nil {
			if errs.Is(err, errs.NotFound) {
				return nil, errs.New(errs.NotFound, "Receiver not found")
			}
			return nil, err
		}
		conv, _, err = s.findOrCreate(ctx, senderID, req.ReceiverID)
		if err != nil {
			return nil, err
		}
	} else {
		conv, err = s.conversationFor(ctx, req.ConversationID, senderID)
		if err != nil {
			return nil, err
		}
	}

	msg, err := s.messages.AppendMessage(ctx, conv.ID, senderID, req.Message)
	if err != nil {
		return nil, err
	}
	metrics.MessagesPersisted.Inc()

	if err := s.conversations.TouchConversation(ctx, conv.ID); err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("component", "chat").
			Str("conversation_id", conv.ID).
			Msg("Failed to touch conversation after append")
	}

	return &models.MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         sender.Profile(),
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// ListMessages returns a conversation's messages oldest first, each with
// its sender's profile. Only members may read.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string) ([]models.MessageView, error) {
	conv, err := s.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]models.PublicProfile, 2)
	views := make([]models.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		profile, ok := profiles[msg.SenderID]
		if !ok {
			profile, err = s.profile(ctx, msg.SenderID)
			if err != nil {
				return nil, err
			}
			profiles[msg.SenderID] = profile
		}
		views = append(views, models.MessageView{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Sender:         profile,
			Text:           msg.Text,
			CreatedAt:      msg.CreatedAt,
		})
	}
	return views, nil
}

// ListOtherUsers returns every user except userID.
func (s *Service) ListOtherUsers(ctx context.Context, userID string) ([]models.UserView, error) {
	users, err := s.users.ListUsersExcept(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]models.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, models.UserView{User: u.Profile(), UserID: u.ID})
	}
	return views, nil
}

// conversationFor resolves conversationID and checks userID's membership.
func (s *Service) conversationFor(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if !models.ValidID(conversationID) {
		return nil, errs.New(errs.InvalidArgument, "Invalid conversationId")
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errs.New(errs.NotFound, "Conversation not found")
	}
	if err := Authorize(conv, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// profile resolves a sender, keeping the bare id when the user is gone.
func (s *Service) profile(ctx context.Context, userID string) (models.PublicProfile, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return models.PublicProfile{ID: userID}, nil
		}
		return models.PublicProfile{}, err
	}
	return u.Profile(), nil
}
