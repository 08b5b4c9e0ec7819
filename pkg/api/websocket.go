package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoplimit/pkg/app/core/settlement"
)

// Channels a client can subscribe to. Every event goes to ChannelAll and to the channel named
// after its type; fill and cancel events also go to "digest:<hex>" and "maker:<hex>".
// Events relayed from peers use the same names behind peerPrefix ("peer:events", ...).
const (
	ChannelAll    = "events"
	digestChannel = "digest:"
	makerChannel  = "maker:"
	peerPrefix    = "peer:"
)

var errHubStopped = errors.New("websocket hub stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

type broadcast struct {
	channels []string
	message  []byte
}

// Hub maintains active WebSocket connections and fans settlement events out to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Messages waiting to be fanned out
	broadcast chan broadcast

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu  sync.RWMutex
	log *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run starts the hub's main loop; it returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("client connected", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Infow("client disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case b := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.subscribedAny(b.channels) {
					continue
				}
				select {
				case client.send <- b.message:
				default:
					// Client send buffer full, disconnect
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues ev for every client subscribed to one of its channels. It never blocks past
// ctx.
func (h *Hub) Publish(ctx context.Context, ev settlement.Event) error {
	message, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return h.enqueue(ctx, broadcast{channels: eventChannels(ev), message: message})
}

// PeerEvent is an event relayed from another node. It has not been committed here and its
// origin is not authenticated.
type PeerEvent struct {
	settlement.Event
	Remote bool   `json:"remote"`
	Origin string `json:"origin"`
}

// PublishRemote fans out an event received from peer origin. It goes only to the "peer:"
// variants of its channels, so subscribers of local channels never see it.
func (h *Hub) PublishRemote(ctx context.Context, origin string, ev settlement.Event) error {
	message, err := json.Marshal(PeerEvent{Event: ev, Remote: true, Origin: origin})
	if err != nil {
		return fmt.Errorf("marshal peer event: %w", err)
	}
	return h.enqueue(ctx, broadcast{channels: peerChannels(ev), message: message})
}

func (h *Hub) enqueue(ctx context.Context, b broadcast) error {
	select {
	case <-h.done:
		return errHubStopped
	default:
	}
	select {
	case h.broadcast <- b:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventChannels(ev settlement.Event) []string {
	channels := []string{ChannelAll, string(ev.Type)}
	switch p := ev.Payload.(type) {
	case settlement.FillEvent:
		channels = append(channels, digestChannel+strings.ToLower(p.Digest.Hex()), makerChannel+strings.ToLower(p.Maker.Hex()))
	case settlement.CancelEvent:
		channels = append(channels, digestChannel+strings.ToLower(p.Digest.Hex()), makerChannel+strings.ToLower(p.Maker.Hex()))
	}
	return channels
}

func peerChannels(ev settlement.Event) []string {
	channels := eventChannels(ev)
	for i, ch := range channels {
		channels[i] = peerPrefix + ch
	}
	return channels
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) subscribedAny(channels []string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, ch := range channels {
		if c.subscriptions[ch] {
			return true
		}
	}
	return false
}

// Subscribe adds a channel subscription. Address and digest channels are case-insensitive.
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[strings.ToLower(channel)] = true
	c.subsMu.Unlock()
	c.hub.log.Debugw("subscribed", "client", c.id, "channel", channel)
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, strings.ToLower(channel))
	c.subsMu.Unlock()
	c.hub.log.Debugw("unsubscribed", "client", c.id, "channel", channel)
}

// readPump pumps subscription requests from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("read error", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("invalid message", "client", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
		default:
			c.hub.log.Debugw("unknown op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade error", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
