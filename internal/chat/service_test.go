package chat

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pairchat/internal/db"
	"pairchat/internal/errs"
	"pairchat/internal/logging"
	"pairchat/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestService(t *testing.T) (*Service, *db.DB) {
	database := newTestDB(t)
	return NewService(database, database, database), database
}

func createUser(t *testing.T, database *db.DB, name string) *models.User {
	t.Helper()
	u, err := database.CreateUser(context.Background(), name+"@example.com", name, "hash")
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", name, err)
	}
	return u
}

func TestCreateConversation_NewThenExisting(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")

	first, isNew, err := svc.CreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("first CreateConversation error = %v", err)
	}
	if !isNew {
		t.Error("first call should create the conversation")
	}

	second, isNew, err := svc.CreateConversation(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("second CreateConversation error = %v", err)
	}
	if isNew {
		t.Error("second call should reuse the conversation")
	}
	if first.ID != second.ID {
		t.Errorf("conversation ids differ: %s vs %s", first.ID, second.ID)
	}
}

func TestCreateConversation_Errors(t *testing.T) {
	svc, database := newTestService(t)
	alice := createUser(t, database, "alice")

	tests := []struct {
		name     string
		sender   string
		receiver string
		want     errs.Kind
	}{
		{"self", alice.ID, alice.ID, errs.InvalidArgument},
		{"malformed receiver", alice.ID, "not-an-id", errs.InvalidArgument},
		{"missing sender", "", alice.ID, errs.InvalidArgument},
		{"unknown receiver", alice.ID, models.NewID(), errs.NotFound},
		{"unknown sender", models.NewID(), alice.ID, errs.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateConversation(context.Background(), tt.sender, tt.receiver)
			if !errs.Is(err, tt.want) {
				t.Errorf("error = %v, want kind %v", err, tt.want)
			}
		})
	}
}

func TestCreateConversation_ConcurrentCallsShareOneConversation(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]bool)
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			conv, isNew, err := svc.CreateConversation(ctx, a, b)
			if err != nil {
				t.Errorf("CreateConversation error = %v", err)
				return
			}
			mu.Lock()
			ids[conv.ID] = true
			if isNew {
				created++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Errorf("got %d distinct conversations, want 1", len(ids))
	}
	if created != 1 {
		t.Errorf("%d calls reported isNew, want 1", created)
	}
}

// racingStore loses the first insert to a concurrent writer.
type racingStore struct {
	*db.DB
	finds int
}

func (r *racingStore) FindConversationByMembers(ctx context.Context, a, b string) (*models.Conversation, error) {
	r.finds++
	if r.finds == 1 {
		return nil, nil
	}
	return r.DB.FindConversationByMembers(ctx, a, b)
}

func TestFindOrCreate_ConflictResolvesToExisting(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")

	winner, err := database.CreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}

	store := &racingStore{DB: database}
	svc := NewService(database, store, database)

	conv, isNew, err := svc.CreateConversation(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("CreateConversation error = %v", err)
	}
	if isNew {
		t.Error("conflicting create reported isNew")
	}
	if conv.ID != winner.ID {
		t.Errorf("got conversation %s, want %s", conv.ID, winner.ID)
	}
	if store.finds != 2 {
		t.Errorf("finds = %d, want 2", store.finds)
	}
}

func TestSendMessage_NewSentinelReusesConversation(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")

	req := models.SendMessageRequest{
		ConversationID: models.NewConversationSentinel,
		ReceiverID:     bob.ID,
		Message:        "hi",
	}
	first, err := svc.SendMessage(ctx, alice.ID, req)
	if err != nil {
		t.Fatalf("first SendMessage error = %v", err)
	}
	if first.Text != "hi" || first.Sender.ID != alice.ID || first.Sender.Email != alice.Email {
		t.Errorf("unexpected message view: %+v", first)
	}

	second, err := svc.SendMessage(ctx, alice.ID, req)
	if err != nil {
		t.Fatalf("second SendMessage error = %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Errorf("conversation not reused: %s vs %s", first.ConversationID, second.ConversationID)
	}

	convs, err := database.ListConversationsForMember(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("got %d conversations, want 1", len(convs))
	}
	msgs, err := database.ListMessages(ctx, first.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestSendMessage_NonMemberForbidden(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	carol := createUser(t, database, "carol")

	conv, _, err := svc.CreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.SendMessage(ctx, carol.ID, models.SendMessageRequest{
		ConversationID: conv.ID,
		Message:        "let me in",
	})
	if !errs.Is(err, errs.Forbidden) {
		t.Fatalf("error = %v, want Forbidden", err)
	}

	msgs, err := database.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("forbidden send persisted %d messages", len(msgs))
	}
}

func TestSendMessage_Errors(t *testing.T) {
	svc, database := newTestService(t)
	alice := createUser(t, database, "alice")

	tests := []struct {
		name string
		req  models.SendMessageRequest
		want errs.Kind
	}{
		{
			name: "blank text",
			req:  models.SendMessageRequest{ConversationID: models.NewConversationSentinel, ReceiverID: models.NewID(), Message: "  "},
			want: errs.InvalidArgument,
		},
		{
			name: "new without receiver",
			req:  models.SendMessageRequest{ConversationID: models.NewConversationSentinel, Message: "hi"},
			want: errs.InvalidArgument,
		},
		{
			name: "new to self",
			req:  models.SendMessageRequest{ConversationID: models.NewConversationSentinel, ReceiverID: alice.ID, Message: "hi"},
			want: errs.InvalidArgument,
		},
		{
			name: "unknown receiver",
			req:  models.SendMessageRequest{ConversationID: models.NewConversationSentinel, ReceiverID: models.NewID(), Message: "hi"},
			want: errs.NotFound,
		},
		{
			name: "malformed conversation id",
			req:  models.SendMessageRequest{ConversationID: "abc", Message: "hi"},
			want: errs.InvalidArgument,
		},
		{
			name: "unknown conversation",
			req:  models.SendMessageRequest{ConversationID: models.NewID(), Message: "hi"},
			want: errs.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(context.Background(), alice.ID, tt.req)
			if !errs.Is(err, tt.want) {
				t.Errorf("error = %v, want kind %v", err, tt.want)
			}
		})
	}
}

// failingTouch persists normally but cannot bump updated_at.
type failingTouch struct {
	*db.DB
}

func (f *failingTouch) TouchConversation(context.Context, string) error {
	return errs.Wrap(errs.Internal, errors.New("disk full"), "touch conversation")
}

func TestSendMessage_TouchFailureKeepsMessage(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")

	svc := NewService(database, &failingTouch{DB: database}, database)
	msg, err := svc.SendMessage(ctx, alice.ID, models.SendMessageRequest{
		ConversationID: models.NewConversationSentinel,
		ReceiverID:     bob.ID,
		Message:        "still here",
	})
	if err != nil {
		t.Fatalf("SendMessage error = %v, want nil", err)
	}

	msgs, err := database.ListMessages(ctx, msg.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "still here" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestListMessages_MembersOnly(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	carol := createUser(t, database, "carol")

	sent, err := svc.SendMessage(ctx, alice.ID, models.SendMessageRequest{
		ConversationID: models.NewConversationSentinel,
		ReceiverID:     bob.ID,
		Message:        "Hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessage(ctx, bob.ID, models.SendMessageRequest{
		ConversationID: sent.ConversationID,
		Message:        "Hi Alice",
	}); err != nil {
		t.Fatal(err)
	}

	msgs, err := svc.ListMessages(ctx, sent.ConversationID, bob.ID)
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != sent.ID || msgs[0].Sender.ID != alice.ID || msgs[0].Text != "Hello" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Sender.FullName != "bob" {
		t.Errorf("second message sender = %+v", msgs[1].Sender)
	}

	if _, err := svc.ListMessages(ctx, sent.ConversationID, carol.ID); !errs.Is(err, errs.Forbidden) {
		t.Errorf("outsider ListMessages error = %v, want Forbidden", err)
	}
	if _, err := svc.ListMessages(ctx, models.NewID(), alice.ID); !errs.Is(err, errs.NotFound) {
		t.Errorf("unknown conversation error = %v, want NotFound", err)
	}
}

// hidingDirectory pretends one user no longer exists.
type hidingDirectory struct {
	*db.DB
	hidden string
}

func (h *hidingDirectory) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if id == h.hidden {
		return nil, errs.New(errs.NotFound, "User not found")
	}
	return h.DB.GetUserByID(ctx, id)
}

func TestListConversationsForUser(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	carol := createUser(t, database, "carol")
	dave := createUser(t, database, "dave")

	svc := NewService(database, database, database)
	send := func(from, to string) {
		t.Helper()
		if _, err := svc.SendMessage(ctx, from, models.SendMessageRequest{
			ConversationID: models.NewConversationSentinel,
			ReceiverID:     to,
			Message:        "ping",
		}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	send(alice.ID, bob.ID)
	send(carol.ID, alice.ID)
	send(alice.ID, dave.ID)
	send(bob.ID, alice.ID)

	views, err := svc.ListConversationsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListConversationsForUser error = %v", err)
	}
	want := []string{bob.ID, dave.ID, carol.ID}
	if len(views) != len(want) {
		t.Fatalf("got %d views, want %d", len(views), len(want))
	}
	for i, v := range views {
		if v.User.ID != want[i] {
			t.Errorf("view %d user = %s, want %s", i, v.User.FullName, want[i])
		}
		if v.ConversationID == "" || v.UpdatedAt.Before(v.CreatedAt) {
			t.Errorf("view %d = %+v", i, v)
		}
	}

	dangling := NewService(&hidingDirectory{DB: database, hidden: dave.ID}, database, database)
	views, err = dangling.ListConversationsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListConversationsForUser with dangling member error = %v", err)
	}
	if len(views) != 2 {
		t.Errorf("got %d views, want dangling conversation dropped", len(views))
	}

	if _, err := svc.ListConversationsForUser(ctx, "bad"); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("malformed id error = %v, want InvalidArgument", err)
	}
	if _, err := svc.ListConversationsForUser(ctx, models.NewID()); !errs.Is(err, errs.NotFound) {
		t.Errorf("unknown user error = %v, want NotFound", err)
	}
}

func TestListOtherUsers(t *testing.T) {
	svc, database := newTestService(t)
	alice := createUser(t, database, "alice")
	bob := createUser(t, database, "bob")
	carol := createUser(t, database, "carol")

	views, err := svc.ListOtherUsers(context.Background(), alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d users, want 2", len(views))
	}
	if views[0].UserID != bob.ID || views[1].UserID != carol.ID {
		t.Errorf("users = %+v", views)
	}
	if views[0].User.ID != views[0].UserID {
		t.Error("user id and profile id disagree")
	}
}
