// Package mongo stores users, conversations and messages in MongoDB. It
// satisfies the same contract as the SQL store in package db.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pairchat/internal/errs"
	"pairchat/internal/logging"
	"pairchat/internal/models"
)

type userDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	FullName  string    `bson:"full_name"`
	Password  string    `bson:"password"`
	CreatedAt time.Time `bson:"created_at"`
}

// conversationDoc keeps the members array for lookups by user and a joined
// pair key carrying the unique index. A unique index on members itself
// would be multikey and allow each user only one conversation.
type conversationDoc struct {
	ID        string    `bson:"_id"`
	Members   []string  `bson:"members"`
	Pair      string    `bson:"pair"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

// Store implements the identity directory, conversation store and message
// store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Open connects to uri, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		now:    defaultNow,
	}
	if err := s.migrate(ctx); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, err
	}

	logger := logging.WithComponent("mongo")
	logger.Info().Str("database", database).Msg("MongoDB store ready")
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// defaultNow truncates to milliseconds, the precision of a BSON datetime.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (s *Store) users() *mongo.Collection         { return s.db.Collection("users") }
func (s *Store) conversations() *mongo.Collection { return s.db.Collection("conversations") }
func (s *Store) messages() *mongo.Collection      { return s.db.Collection("messages") }

func (s *Store) migrate(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.users(): {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "full_name", Value: 1}, {Key: "_id", Value: 1}}},
		},
		s.conversations(): {
			{Keys: bson.D{{Key: "pair", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_member_pair")},
			{Keys: bson.D{{Key: "members", Value: 1}}},
		},
		s.messages(): {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
	}

	for coll, idx := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func pairKey(members [2]string) string {
	return members[0] + ":" + members[1]
}

func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return errs.Wrap(errs.Conflict, err, msg)
	}
	return errs.Wrap(errs.Internal, err, msg)
}

// User methods

func (s *Store) CreateUser(ctx context.Context, email, fullName, passwordHash string) (*models.User, error) {
	doc := userDoc{
		ID:        models.NewID(),
		Email:     email,
		FullName:  fullName,
		Password:  passwordHash,
		CreatedAt: s.now(),
	}
	if _, err := s.users().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.Wrap(errs.Conflict, err, "User already exists")
		}
		return nil, classify(err, "create user")
	}
	return doc.toModel(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, bson.M{"email": email})
}

func (s *Store) getUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := s.users().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.New(errs.NotFound, "User not found")
		}
		return nil, classify(err, "get user")
	}
	return doc.toModel(), nil
}

// ListUsersExcept returns every user but excludeID, ordered by name.
func (s *Store) ListUsersExcept(ctx context.Context, excludeID string) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "full_name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.users().Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, classify(err, "list users")
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err, "decode users")
	}

	users := make([]*models.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toModel())
	}
	return users, nil
}

// Conversation methods

// FindConversationByMembers returns the conversation between a and b, or
// nil when there is none.
func (s *Store) FindConversationByMembers(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, errs.New(errs.InvalidArgument, "Cannot create conversation with yourself")
	}
	return s.findConversation(ctx, bson.M{"pair": pairKey(models.CanonicalMembers(a, b))})
}

// CreateConversation inserts a conversation for the pair. A second insert
// for the same pair fails with errs.Conflict.
func (s *Store) CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, errs.New(errs.InvalidArgument, "Cannot create conversation with yourself")
	}
	members := models.CanonicalMembers(a, b)

	count, err := s.users().CountDocuments(ctx, bson.M{"_id": bson.M{"$in": members[:]}})
	if err != nil {
		return nil, classify(err, "resolve members")
	}
	if count != 2 {
		return nil, errs.New(errs.InvalidArgument, "One or both users not found")
	}

	now := s.now()
	doc := conversationDoc{
		ID:        models.NewID(),
		Members:   members[:],
		Pair:      pairKey(members),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		return nil, classify(err, "create conversation")
	}
	return doc.toModel(), nil
}

// TouchConversation bumps updated_at to now.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	result, err := s.conversations().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"updated_at": s.now()}},
	)
	if err != nil {
		return classify(err, "touch conversation")
	}
	if result.MatchedCount == 0 {
		return errs.New(errs.NotFound, "Conversation not found")
	}
	return nil
}

// GetConversation returns the conversation with id, or nil.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.findConversation(ctx, bson.M{"_id": id})
}

func (s *Store) findConversation(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	var doc conversationDoc
	if err := s.conversations().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify(err, "find conversation")
	}
	return doc.toModel(), nil
}

// ListConversationsForMember returns every conversation containing userID.
func (s *Store) ListConversationsForMember(ctx context.Context, userID string) ([]*models.Conversation, error) {
	cursor, err := s.conversations().Find(ctx, bson.M{"members": userID})
	if err != nil {
		return nil, classify(err, "list conversations")
	}
	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err, "decode conversations")
	}

	conversations := make([]*models.Conversation, 0, len(docs))
	for i := range docs {
		conversations = append(conversations, docs[i].toModel())
	}
	return conversations, nil
}

// Message methods

// AppendMessage persists a message. Membership is the caller's concern.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.InvalidArgument, "Message text is required")
	}

	doc := messageDoc{
		ID:             models.NewID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        text,
		CreatedAt:      s.now(),
	}
	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		return nil, classify(err, "save message")
	}
	return doc.toModel(), nil
}

// ListMessages returns a conversation's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages().Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, classify(err, "list messages")
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(err, "decode messages")
	}

	messages := make([]*models.Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, docs[i].toModel())
	}
	return messages, nil
}

func (d *userDoc) toModel() *models.User {
	return &models.User{
		ID:        d.ID,
		Email:     d.Email,
		FullName:  d.FullName,
		Password:  d.Password,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func (d *conversationDoc) toModel() *models.Conversation {
	conv := &models.Conversation{
		ID:        d.ID,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	copy(conv.Members[:], d.Members)
	return conv
}

func (d *messageDoc) toModel() *models.Message {
	return &models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Text:           d.Content,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}
