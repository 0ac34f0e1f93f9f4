package api

import (
	"net/http"
	"net/url"
	"strings"

	gorilla "github.com/gorilla/websocket"

	"pairchat/internal/logging"
	"pairchat/internal/websocket"
)

func newUpgrader(allowedOrigins []string) gorilla.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			wildcard = true
		}
		allowed[strings.TrimSuffix(origin, "/")] = true
	}

	return gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			if allowed[origin] {
				return true
			}
			// Same-host requests are always fine.
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// HandleWebSocket upgrades an authenticated request and hands the
// connection to the hub.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.authn.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized - Invalid or missing token"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, user.ID)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	logging.Ctx(r.Context()).Debug().Str("user_id", user.ID).Msg("WebSocket connected")
	go client.WritePump()
	go client.ReadPump()
}
