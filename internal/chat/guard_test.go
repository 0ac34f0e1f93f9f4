package chat

import (
	"testing"

	"pairchat/internal/errs"
	"pairchat/internal/models"
)

func TestIsMember(t *testing.T) {
	conv := &models.Conversation{ID: "c1", Members: models.CanonicalMembers("bob", "alice")}

	tests := []struct {
		name   string
		conv   *models.Conversation
		userID string
		want   bool
	}{
		{"first member", conv, "alice", true},
		{"second member", conv, "bob", true},
		{"outsider", conv, "carol", false},
		{"empty user", conv, "", false},
		{"nil conversation", nil, "alice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMember(tt.conv, tt.userID); got != tt.want {
				t.Errorf("IsMember() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	conv := &models.Conversation{ID: "c1", Members: [2]string{"alice", "bob"}}

	if err := Authorize(conv, "alice"); err != nil {
		t.Errorf("Authorize(member) error = %v", err)
	}
	if err := Authorize(conv, "carol"); !errs.Is(err, errs.Forbidden) {
		t.Errorf("Authorize(outsider) error = %v, want Forbidden", err)
	}
}
