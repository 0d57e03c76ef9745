package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection bound to a single room.
type Client struct {
	ID       string
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Room     string
	Query    url.Values
	IsClosed bool
	Mu       sync.Mutex

	// OnMessage receives every text frame read from the connection.
	OnMessage func(payload []byte)
	// OnClose runs once after the read loop ends.
	OnClose func()
}

func NewClient(hub *Hub, conn *websocket.Conn, id, room string, query url.Values) *Client {
	return &Client{
		ID:    id,
		Hub:   hub,
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
		Room:  room,
		Query: query,
	}
}

// ErrHubStopped is returned by Register once Run has returned.
var ErrHubStopped = errors.New("websocket hub stopped")

type registration struct {
	client *Client
	done   chan struct{}
}

// Hub tracks which connections belong to which room and fans messages out.
type Hub struct {
	register   chan registration
	unregister chan *Client
	rooms      map[string]map[string]*Client
	mu         sync.RWMutex
	logger     *slog.Logger
	// закрывается, когда Run завершился
	done chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan registration),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[string]*Client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[reg.client.Room]; !ok {
				h.rooms[reg.client.Room] = make(map[string]*Client)
			}
			h.rooms[reg.client.Room][reg.client.ID] = reg.client
			size := len(h.rooms[reg.client.Room])
			h.mu.Unlock()
			h.logger.Debug("client registered", slog.String("room", reg.client.Room), slog.String("conn_id", reg.client.ID), slog.Int("clients", size))
			close(reg.done)

		case client := <-h.unregister:
			h.mu.Lock()
			if roomClients, ok := h.rooms[client.Room]; ok {
				if _, okClient := roomClients[client.ID]; okClient {
					client.close()
					delete(roomClients, client.ID)
					if len(roomClients) == 0 {
						delete(h.rooms, client.Room)
						h.logger.Debug("room has no clients left", slog.String("room", client.Room))
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds the client to its room and returns once the hub has
// recorded it, so the room may address it immediately afterwards.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	reg := registration{client: client, done: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reg.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes the client from its room. Once Run has returned there is
// nobody to receive it, so the client is only closed.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

// BroadcastToRoom sends a message to every client in a room. The message is
// serialised before returning.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", slog.String("room", roomID), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.rooms[roomID] {
		h.deliver(client, messageBytes)
	}
}

// SendTo sends a message to a single connection of a room.
func (h *Hub) SendTo(roomID, connectionID string, message interface{}) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", slog.String("room", roomID), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if client, ok := h.rooms[roomID][connectionID]; ok {
		h.deliver(client, messageBytes)
	}
}

// ClientCount returns the number of live connections in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) deliver(client *Client, messageBytes []byte) {
	client.Mu.Lock()
	defer client.Mu.Unlock()
	if client.IsClosed {
		return
	}
	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("client send buffer full, dropping message", slog.String("room", client.Room), slog.String("conn_id", client.ID))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, roomClients := range h.rooms {
		for _, client := range roomClients {
			client.close()
		}
		delete(h.rooms, roomID)
	}
}

func (c *Client) close() {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.IsClosed {
		close(c.Send)
		c.IsClosed = true
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
		if c.OnClose != nil {
			c.OnClose()
		}
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("unexpected websocket close", slog.String("room", c.Room), slog.Any("error", err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(message)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one frame per message: clients parse each frame as a single JSON value
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.Debug("write failed", slog.String("room", c.Room), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
