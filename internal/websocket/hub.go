package websocket

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pairchat/internal/logging"
	"pairchat/internal/metrics"
	"pairchat/internal/models"
	"pairchat/internal/presence"
)

type inboundEvent struct {
	client *Client
	event  models.InboundEvent
}

// Hub is the realtime relay. All connection state and every send happen
// on the goroutine running Serve; pumps talk to it over channels.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	done       chan struct{}
	presence   *presence.Registry[*Client]
	logger     zerolog.Logger
}

func NewHub(registry *presence.Registry[*Client]) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, 256),
		done:       make(chan struct{}),
		presence:   registry,
		logger:     logging.WithComponent("websocket"),
	}
}

func (h *Hub) String() string {
	return "websocket-hub"
}

// OnlineUserIDs returns a snapshot of identified users.
func (h *Hub) OnlineUserIDs() []string {
	return h.presence.ListOnlineUserIDs()
}

// Register hands c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// receive decodes one client frame and queues it for the hub.
func (h *Hub) receive(c *Client, data []byte) {
	var event models.InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		h.logger.Debug().Err(err).Msg("Invalid websocket frame")
		event = models.InboundEvent{}
	}
	select {
	case h.inbound <- inboundEvent{client: c, event: event}:
	case <-h.done:
	}
}

// Serve runs the event loop until ctx is cancelled, then closes every
// client's send channel.
func (h *Hub) Serve(ctx context.Context) error {
	h.logger.Info().Msg("WebSocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case client := <-h.register:
			h.clients[client] = true
			metrics.WSConnections.Inc()
			h.logger.Debug().
				Str("auth_user_id", client.authUserID).
				Int("clients", len(h.clients)).
				Msg("Client connected")
			h.send(client, models.EventSystem, models.NoticePayload{Message: "Connected to chat server"})

		case client := <-h.unregister:
			h.disconnect(client)

		case in := <-h.inbound:
			if h.clients[in.client] {
				h.handle(in.client, in.event)
			}
		}
	}
}

func (h *Hub) shutdown() {
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		if client.userID != "" {
			h.presence.RemoveIfCurrent(client.userID, client)
		}
	}
	metrics.WSConnections.Set(0)
	metrics.OnlineUsers.Set(float64(h.presence.Len()))
	close(h.done)
	h.logger.Info().Msg("WebSocket hub stopped")
}

func (h *Hub) disconnect(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.WSConnections.Dec()

	if client.userID == "" {
		return
	}
	removed := h.presence.RemoveIfCurrent(client.userID, client)
	h.logger.Debug().
		Str("user_id", client.userID).
		Bool("presence_removed", removed).
		Msg("Client disconnected")
	h.broadcastOnlineUsers()
}

func (h *Hub) handle(c *Client, event models.InboundEvent) {
	if event.Type == "" {
		h.reject(c, event.Type, "Invalid message format")
		return
	}
	if event.Type == models.EventIdentify {
		h.identify(c, event.Payload)
		return
	}
	if c.userID == "" {
		h.reject(c, event.Type, "Identify before sending events")
		return
	}

	switch event.Type {
	case models.EventSendRealtime:
		h.relayMessage(c, event.Payload)
	case models.EventTyping:
		h.forwardTyping(c, event.Payload)
	default:
		h.reject(c, event.Type, "Unknown event type")
	}
}

func (h *Hub) identify(c *Client, raw json.RawMessage) {
	var payload models.IdentifyPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.UserID == "" {
		h.reject(c, models.EventIdentify, "userId is required")
		return
	}
	if c.authUserID != "" && payload.UserID != c.authUserID {
		h.reject(c, models.EventIdentify, "Cannot identify as another user")
		return
	}

	c.userID = payload.UserID
	if prev, replaced := h.presence.SetOnline(c.userID, c); replaced && prev != c {
		h.logger.Debug().Str("user_id", c.userID).Msg("Newer connection replaced presence entry")
	}
	metrics.RecordRealtimeEvent(models.EventIdentify, metrics.OutcomeDelivered)
	h.broadcastOnlineUsers()
}

func (h *Hub) relayMessage(c *Client, raw json.RawMessage) {
	var payload models.RelayPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ReceiverID == "" {
		h.reject(c, models.EventSendRealtime, "receiverId is required")
		return
	}

	outcome := metrics.OutcomeDropped
	if receiver, ok := h.presence.GetHandle(payload.ReceiverID); ok {
		if h.send(receiver, models.EventMessageReceived, payload.Message) {
			outcome = metrics.OutcomeDelivered
		}
	}
	metrics.RecordRealtimeEvent(models.EventSendRealtime, outcome)

	h.send(c, models.EventMessageSent, payload.Message)
}

func (h *Hub) forwardTyping(c *Client, raw json.RawMessage) {
	var payload models.TypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ReceiverID == "" {
		h.reject(c, models.EventTyping, "receiverId is required")
		return
	}

	outcome := metrics.OutcomeDropped
	if receiver, ok := h.presence.GetHandle(payload.ReceiverID); ok {
		if h.send(receiver, models.EventUserTyping, raw) {
			outcome = metrics.OutcomeDelivered
		}
	}
	metrics.RecordRealtimeEvent(models.EventTyping, outcome)
}

func (h *Hub) reject(c *Client, eventType, msg string) {
	if eventType == "" {
		eventType = "unknown"
	}
	metrics.RecordRealtimeEvent(eventType, metrics.OutcomeRejected)
	h.send(c, models.EventError, models.NoticePayload{Message: msg})
}

func (h *Hub) broadcastOnlineUsers() {
	online := h.presence.ListOnlineUserIDs()
	metrics.OnlineUsers.Set(float64(len(online)))

	data, err := encode(models.EventOnlineUsers, online)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal online users")
		return
	}
	for client := range h.clients {
		h.deliver(client, data)
	}
}

// send encodes one event for c. Delivery never blocks the hub: a client
// whose buffer is full misses the event.
func (h *Hub) send(c *Client, eventType string, payload interface{}) bool {
	data, err := encode(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", eventType).Msg("Failed to marshal event")
		return false
	}
	return h.deliver(c, data)
}

func (h *Hub) deliver(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn().Str("user_id", c.userID).Msg("Client send buffer full, dropping event")
		return false
	}
}

func encode(eventType string, payload interface{}) ([]byte, error) {
	return json.Marshal(models.WebSocketMessage{Type: eventType, Payload: payload})
}
