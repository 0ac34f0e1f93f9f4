package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"pairchat/internal/logging"
	"pairchat/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// UserLookup resolves the user a token names.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Authenticator resolves the caller from a session cookie or bearer token.
type Authenticator struct {
	issuer       *Issuer
	users        UserLookup
	cookieName   string
	secureCookie bool
}

func NewAuthenticator(issuer *Issuer, users UserLookup, cookieName string, secureCookie bool) *Authenticator {
	return &Authenticator{
		issuer:       issuer,
		users:        users,
		cookieName:   cookieName,
		secureCookie: secureCookie,
	}
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated caller, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok && user != nil
}

// TokenFromRequest returns the session cookie, falling back to an
// Authorization: Bearer header.
func (a *Authenticator) TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// Authenticate resolves the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (*models.User, error) {
	token := a.TokenFromRequest(r)
	if token == "" {
		return nil, ErrInvalidToken
	}
	userID, err := a.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUserByID(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// caller in the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Authenticate(r)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("Unauthorized request")
			writeUnauthorized(w, "Unauthorized - Invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// SetSessionCookie issues a token for userID and sets it on w.
func (a *Authenticator) SetSessionCookie(w http.ResponseWriter, userID string) error {
	token, err := a.issuer.Issue(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(a.issuer.TTL() / time.Second),
	})
	return nil
}

func (a *Authenticator) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"message": msg}) //nolint:errcheck
}
