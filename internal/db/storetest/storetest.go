// Package storetest holds the behaviour every storage backend must share.
// Backends call Run from their own tests with a constructor for a fresh,
// empty store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"pairchat/internal/errs"
	"pairchat/internal/models"
)

type Store interface {
	CreateUser(ctx context.Context, email, fullName, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersExcept(ctx context.Context, excludeID string) ([]*models.User, error)

	FindConversationByMembers(ctx context.Context, a, b string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsForMember(ctx context.Context, userID string) ([]*models.Conversation, error)

	AppendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"Users", testUsers},
		{"FindByMembersOrderIndependent", testFindOrderIndependent},
		{"CreateRejectsSelfAndUnknown", testCreateRejects},
		{"DuplicatePairConflicts", testDuplicatePair},
		{"TouchConversation", testTouch},
		{"ListConversationsForMember", testListForMember},
		{"AppendRejectsBlank", testAppendBlank},
		{"MessagesOrdered", testMessagesOrdered},
		{"ConcurrentAppendsOrdered", testConcurrentAppends},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// MustUser creates a user or fails the test.
func MustUser(t *testing.T, s Store, name string) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name+"@example.com", name, "hash")
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", name, err)
	}
	return u
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	alice := MustUser(t, s, "alice")
	bob := MustUser(t, s, "bob")

	if _, err := s.CreateUser(ctx, "alice@example.com", "Other Alice", "hash"); !errs.Is(err, errs.Conflict) {
		t.Errorf("duplicate email error = %v, want Conflict", err)
	}

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil || got.ID != alice.ID {
		t.Fatalf("GetUserByEmail = %v, %v", got, err)
	}
	if got.Password != "hash" {
		t.Error("password hash not round-tripped")
	}

	if _, err := s.GetUserByEmail(ctx, "ALICE@example.com"); !errs.Is(err, errs.NotFound) {
		t.Errorf("email lookup should be case sensitive, err = %v", err)
	}
	if _, err := s.GetUserByID(ctx, models.NewID()); !errs.Is(err, errs.NotFound) {
		t.Errorf("unknown id error = %v, want NotFound", err)
	}

	others, err := s.ListUsersExcept(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListUsersExcept error = %v", err)
	}
	if len(others) != 1 || others[0].ID != bob.ID {
		t.Errorf("ListUsersExcept = %v", others)
	}
}

func testFindOrderIndependent(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")

	none, err := s.FindConversationByMembers(ctx, a.ID, b.ID)
	if err != nil || none != nil {
		t.Fatalf("expected no conversation, got %v, %v", none, err)
	}

	created, err := s.CreateConversation(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("CreateConversation error = %v", err)
	}
	if created.Members != models.CanonicalMembers(a.ID, b.ID) {
		t.Errorf("members not canonical: %v", created.Members)
	}

	ab, err := s.FindConversationByMembers(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := s.FindConversationByMembers(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ab == nil || ba == nil || ab.ID != created.ID || ba.ID != created.ID {
		t.Errorf("lookup not order independent: %v / %v", ab, ba)
	}

	if _, err := s.FindConversationByMembers(ctx, a.ID, a.ID); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("self lookup error = %v, want InvalidArgument", err)
	}
}

func testCreateRejects(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")

	if _, err := s.CreateConversation(ctx, a.ID, a.ID); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("self conversation error = %v, want InvalidArgument", err)
	}
	if _, err := s.CreateConversation(ctx, a.ID, models.NewID()); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("unknown member error = %v, want InvalidArgument", err)
	}
}

func testDuplicatePair(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")

	if _, err := s.CreateConversation(ctx, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateConversation(ctx, b.ID, a.ID); !errs.Is(err, errs.Conflict) {
		t.Errorf("second create error = %v, want Conflict", err)
	}
}

func testTouch(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")
	conv, err := s.CreateConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := s.TouchConversation(ctx, conv.ID); err != nil {
		t.Fatalf("TouchConversation error = %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil || got == nil {
		t.Fatalf("GetConversation = %v, %v", got, err)
	}
	if !got.UpdatedAt.After(conv.UpdatedAt) {
		t.Errorf("updatedAt not advanced: %v -> %v", conv.UpdatedAt, got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", conv.CreatedAt, got.CreatedAt)
	}

	if err := s.TouchConversation(ctx, models.NewID()); !errs.Is(err, errs.NotFound) {
		t.Errorf("touch unknown error = %v, want NotFound", err)
	}
	if missing, err := s.GetConversation(ctx, models.NewID()); err != nil || missing != nil {
		t.Errorf("GetConversation(unknown) = %v, %v", missing, err)
	}
}

func testListForMember(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")
	c := MustUser(t, s, "c")

	for _, pair := range [][2]string{{a.ID, b.ID}, {c.ID, a.ID}, {b.ID, c.ID}} {
		if _, err := s.CreateConversation(ctx, pair[0], pair[1]); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := s.ListConversationsForMember(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations for a, want 2", len(convs))
	}
	for _, conv := range convs {
		if _, ok := conv.Other(a.ID); !ok {
			t.Errorf("conversation %s does not contain a", conv.ID)
		}
	}
}

func testAppendBlank(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")
	conv, err := s.CreateConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := s.AppendMessage(ctx, conv.ID, a.ID, text); !errs.Is(err, errs.InvalidArgument) {
			t.Errorf("AppendMessage(%q) error = %v, want InvalidArgument", text, err)
		}
	}
	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("blank appends persisted %d messages", len(msgs))
	}
}

func testMessagesOrdered(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")
	conv, err := s.CreateConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}

	var want []string
	for i, sender := range []string{a.ID, b.ID, a.ID} {
		msg, err := s.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("m%d", i+1))
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, msg.ID)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, msg := range msgs {
		if msg.ID != want[i] || msg.Text != fmt.Sprintf("m%d", i+1) {
			t.Errorf("message %d = %s %q", i, msg.ID, msg.Text)
		}
	}
}

func testConcurrentAppends(t *testing.T, s Store) {
	ctx := context.Background()
	a := MustUser(t, s, "a")
	b := MustUser(t, s, "b")
	conv, err := s.CreateConversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := a.ID
			if i%2 == 1 {
				sender = b.ID
			}
			if _, err := s.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("msg %d", i)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append error = %v", err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != n {
		t.Fatalf("got %d messages, want %d", len(msgs), n)
	}
	ordered := sort.SliceIsSorted(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if !ordered {
		t.Error("messages not ordered by creation time")
	}
}
