package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"palaver/database"
	"palaver/middleware"
	"palaver/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Client represents a connected websocket client
type Client struct {
	Username string
	Conn     *websocket.Conn
	Send     chan []byte
	hub      *Hub
}

// Hub maintains the set of active clients and routes channel events
type Hub struct {
	clients    map[string]*Client // username -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastPayload
	mutex      sync.RWMutex
}

type BroadcastPayload struct {
	Username string
	Message  []byte
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastPayload, 256),
	}
}

// Run starts the hub loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.Username] = client
			h.mutex.Unlock()
			log.Printf("Client connected: %s", client.Username)

			h.broadcastOnlineUsers()

		case client := <-h.unregister:
			h.mutex.Lock()
			if current, ok := h.clients[client.Username]; ok && current == client {
				delete(h.clients, client.Username)
				close(client.Send)
			}
			h.mutex.Unlock()
			log.Printf("Client disconnected: %s", client.Username)

			if err := database.TouchLastSeen(client.Username, time.Now()); err != nil {
				log.Printf("Error updating last seen for %s: %v", client.Username, err)
			}
			h.broadcastOnlineUsers()

		case payload := <-h.broadcast:
			h.mutex.RLock()
			if client, ok := h.clients[payload.Username]; ok {
				// A full buffer means a stalled writer; drop rather
				// than block the hub. The write pump's exit will
				// unregister the client.
				select {
				case client.Send <- payload.Message:
				default:
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(username string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[username]
	return ok
}

// SendEvent sends a named event to a specific user, if connected
func (h *Hub) SendEvent(username, name string, data any) {
	ev, err := models.NewEvent(name, data)
	if err != nil {
		log.Printf("Error marshaling %s event: %v", name, err)
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling %s event: %v", name, err)
		return
	}

	h.broadcast <- BroadcastPayload{Username: username, Message: raw}
}

// broadcastOnlineUsers pushes the current online user list to everyone
func (h *Hub) broadcastOnlineUsers() {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	online := make([]string, 0, len(h.clients))
	for username := range h.clients {
		online = append(online, username)
	}

	ev, _ := models.NewEvent(models.EventOnlineUsers, online)
	data, _ := json.Marshal(ev)

	// Sends stay under the read lock so a concurrent unregister cannot
	// close a channel mid-broadcast.
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client
func (api *API) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		Username: user.Username,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		hub:      api.Hub,
	}

	api.Hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}

		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev models.Event) {
	switch ev.Name {
	case models.EventUserConnected:
		// Presence is keyed by the session; the announcement just
		// triggers a fresh online_users push.
		c.hub.broadcastOnlineUsers()

	case models.EventSendMessage:
		var req models.SendMessagePayload
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.Sender != c.Username {
			return
		}
		msg := &models.Message{
			ID:        uuid.NewString(),
			Sender:    req.Sender,
			Receiver:  req.Receiver,
			Content:   req.Content,
			Timestamp: req.Timestamp,
			Status:    models.StatusSent,
		}
		if err := database.CreateMessage(msg); err != nil {
			log.Printf("Error storing message from %s: %v", c.Username, err)
			return
		}
		// Both parties get the stored message; the sender's copy is
		// the echo carrying the server id.
		c.hub.SendEvent(msg.Receiver, models.EventReceiveMessage, msg)
		c.hub.SendEvent(msg.Sender, models.EventReceiveMessage, msg)

	case models.EventTyping:
		var req models.TypingPayload
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.Sender != c.Username {
			return
		}
		c.hub.SendEvent(req.Receiver, models.EventTyping, models.TypingPayload{Sender: req.Sender})

	case models.EventAckDelivered:
		var ref models.MessageRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			return
		}
		advanced, err := database.AdvanceStatus(ref.MessageID, models.StatusDelivered)
		if err != nil || !advanced {
			return
		}
		msg, err := database.GetMessageByID(ref.MessageID)
		if err != nil {
			return
		}
		c.hub.SendEvent(msg.Sender, models.EventMessageUpdated, msg)

	case models.EventMarkSeen:
		var req models.MarkSeenPayload
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.Receiver != c.Username {
			return
		}
		updated, err := database.MarkConversationRead(req.Sender, req.Receiver)
		if err != nil {
			log.Printf("Error marking seen for %s: %v", c.Username, err)
			return
		}
		if len(updated) == 0 {
			return
		}
		c.hub.SendEvent(req.Sender, models.EventMessagesSeen, models.MessagesSeenPayload{
			Receiver: req.Receiver,
			Messages: updated,
		})

	case models.EventToggleReaction:
		var req models.ToggleReactionPayload
		if err := json.Unmarshal(ev.Data, &req); err != nil || req.User != c.Username {
			return
		}
		msg, err := database.GetMessageByID(req.MessageID)
		if err != nil {
			return
		}
		reactions, err := database.ToggleReaction(req.MessageID, req.User, req.Reaction)
		if err != nil {
			log.Printf("Error toggling reaction on %s: %v", req.MessageID, err)
			return
		}
		update := models.ReactionUpdatedPayload{MessageID: req.MessageID, Reactions: reactions}
		c.hub.SendEvent(msg.Sender, models.EventReactionUpdated, update)
		c.hub.SendEvent(msg.Receiver, models.EventReactionUpdated, update)
	}
}

func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
