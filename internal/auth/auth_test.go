package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairchat/internal/errs"
	"pairchat/internal/logging"
	"pairchat/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword error = %v", err)
	}
	if hash == "secret123" {
		t.Fatal("password stored in clear")
	}
	if !CheckPassword(hash, "secret123") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "secret124") {
		t.Error("wrong password accepted")
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	token, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue error = %v", err)
	}
	userID, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify error = %v", err)
	}
	if userID != "user-1" {
		t.Errorf("userID = %q, want user-1", userID)
	}
}

func TestIssuer_Rejects(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	valid, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	expiredIssuer := NewIssuer("test-secret", time.Hour)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	otherSecret, err := NewIssuer("other-secret", time.Hour).Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"tampered", valid[:len(valid)-2] + "xx"},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VySWQiOiJ1c2VyLTEifQ."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Verify(tt.token); err != ErrInvalidToken {
				t.Errorf("Verify error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

type userMap map[string]*models.User

func (m userMap) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, errs.New(errs.NotFound, "User not found")
}

func TestMiddleware(t *testing.T) {
	alice := &models.User{ID: "alice-id", Email: "alice@example.com", FullName: "Alice"}
	issuer := NewIssuer("test-secret", time.Hour)
	authn := NewAuthenticator(issuer, userMap{alice.ID: alice}, "jwt", false)

	aliceToken, err := issuer.Issue(alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	ghostToken, err := issuer.Issue("ghost")
	if err != nil {
		t.Fatal(err)
	}

	handler := authn.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("no user in context")
			return
		}
		io.WriteString(w, user.ID)
	}))

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
	}{
		{
			name:       "cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: aliceToken}) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "bearer",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+aliceToken) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: "bogus"}) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown user",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ghostToken) },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/messages/users", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != alice.ID {
				t.Errorf("body = %q", rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), `"message"`) {
				t.Errorf("body = %q, want JSON message", rec.Body.String())
			}
		})
	}
}

func TestSessionCookie(t *testing.T) {
	issuer := NewIssuer("test-secret", 24*time.Hour)
	authn := NewAuthenticator(issuer, userMap{}, "jwt", true)

	rec := httptest.NewRecorder()
	if err := authn.SetSessionCookie(rec, "user-1"); err != nil {
		t.Fatal(err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != "jwt" || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie attributes = %+v", c)
	}
	if c.MaxAge != 24*60*60 {
		t.Errorf("MaxAge = %d", c.MaxAge)
	}
	if id, err := issuer.Verify(c.Value); err != nil || id != "user-1" {
		t.Errorf("cookie token verify = %q, %v", id, err)
	}

	rec = httptest.NewRecorder()
	authn.ClearSessionCookie(rec)
	if cleared := rec.Result().Cookies(); len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Errorf("cleared cookie = %+v", cleared)
	}
}
