package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"

	"pairchat/internal/auth"
	"pairchat/internal/chat"
	"pairchat/internal/errs"
	"pairchat/internal/logging"
	"pairchat/internal/models"
	"pairchat/internal/websocket"
)

// Accounts is the part of the identity directory the auth endpoints need.
type Accounts interface {
	CreateUser(ctx context.Context, email, fullName, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type Handlers struct {
	chat        *chat.Service
	accounts    Accounts
	authn       *auth.Authenticator
	hub         *websocket.Hub
	upgrader    gorilla.Upgrader
	development bool
}

func NewHandlers(service *chat.Service, accounts Accounts, authn *auth.Authenticator, hub *websocket.Hub, allowedOrigins []string, development bool) *Handlers {
	return &Handlers{
		chat:        service,
		accounts:    accounts,
		authn:       authn,
		hub:         hub,
		upgrader:    newUpgrader(allowedOrigins),
		development: development,
	}
}

func caller(r *http.Request) *models.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat API is running"})
}

func (h *Handlers) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Message: "Route not found"})
}

// Auth handlers

func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, errs.Wrap(errs.Internal, err, "hash password"))
		return
	}

	user, err := h.accounts.CreateUser(r.Context(), req.Email, req.FullName, hashed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.authn.SetSessionCookie(w, user.ID); err != nil {
		h.writeError(w, r, errs.Wrap(errs.Internal, err, "issue token"))
		return
	}

	logging.Ctx(r.Context()).Info().Str("user_id", user.ID).Msg("User signed up")
	writeJSON(w, http.StatusCreated, models.AuthResponse{Success: true, User: user.Profile()})
}

func (h *Handlers) HandleSignin(w http.ResponseWriter, r *http.Request) {
	var req models.SigninRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.accounts.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errs.Is(err, errs.NotFound) {
		h.writeError(w, r, err)
		return
	}
	if user == nil || !auth.CheckPassword(user.Password, req.Password) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Invalid email or password"})
		return
	}

	if err := h.authn.SetSessionCookie(w, user.ID); err != nil {
		h.writeError(w, r, errs.Wrap(errs.Internal, err, "issue token"))
		return
	}

	writeJSON(w, http.StatusOK, models.AuthResponse{Success: true, User: user.Profile()})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.authn.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, caller(r))
}

// Conversation handlers

func (h *Handlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decode(w, r, &req); err != nil {
		if errs.Is(err, errs.InvalidArgument) && errs.Message(err) == "All fields are required" {
			err = errs.New(errs.InvalidArgument, "Sender and receiver required")
		}
		h.writeError(w, r, err)
		return
	}

	conv, isNew, err := h.chat.CreateConversation(r.Context(), req.SenderID, req.ReceiverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, models.CreateConversationResponse{Conversation: conv, IsNew: isNew})
}

func (h *Handlers) HandleUserConversations(w http.ResponseWriter, r *http.Request) {
	views, err := h.chat.ListConversationsForUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Message handlers

func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := decode(w, r, &req); err != nil {
		if errs.Is(err, errs.InvalidArgument) && errs.Message(err) == "All fields are required" {
			err = errs.New(errs.InvalidArgument, "conversationId is required")
		}
		h.writeError(w, r, err)
		return
	}

	msg, err := h.chat.SendMessage(r.Context(), caller(r).ID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.ListMessages(r.Context(), chi.URLParam(r, "conversationId"), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// User handlers

func (h *Handlers) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.chat.ListOtherUsers(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handlers) HandleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.OnlineUsersResponse{UserIDs: h.hub.OnlineUserIDs()})
}
