// Package websocket streams the answers published by the root gateway to
// browser clients.
package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/healthrank/internal/mqttclient"
	"github.com/healthrank/internal/protocol"
	"github.com/healthrank/internal/topk"
)

// Any origin may connect.
var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	idleTimeout  = 45 * time.Second
	pingInterval = 30 * time.Second
)

// Subscriber is the part of the MQTT client the hub needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttclient.Handler) error
}

// Event is pushed to every connected client.
type Event struct {
	Kind       string       `json:"kind"`
	ID         string       `json:"id,omitempty"`
	Devices    []topk.Entry `json:"devices,omitempty"`
	Sensors    []string     `json:"sensors,omitempty"`
	Notice     string       `json:"notice,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

const (
	KindResult  = "topk"
	KindNotice  = "notice"
	KindSensors = "sensors"
)

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	sub        Subscriber
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Event
}

func NewHub(sub Subscriber) *Hub {
	return &Hub{
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		sub:        sub,
	}
}

func (h *Hub) topics() []string {
	return []string{
		protocol.RootTopKResultTopic + "/#",
		protocol.RootInsufficientTopic + "/#",
		protocol.RootSensorsResultTopic,
	}
}

// Run subscribes to the root output topics and fans events out to clients
// until Stop is called.
func (h *Hub) Run() {
	if h.sub != nil {
		for _, topic := range h.topics() {
			if err := h.sub.Subscribe(topic, protocol.QoS, h.HandleMessage); err != nil {
				log.Printf("[WebSocket] Failed to subscribe to %s: %v", topic, err)
			} else {
				log.Printf("[WebSocket] Subscribed to MQTT topic: %s", topic)
			}
		}
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Client connected. Total clients: %d", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WebSocket] Client disconnected. Total clients: %d", n)

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

// HandleMessage converts a root output message into an event.
func (h *Hub) HandleMessage(topic string, payload []byte) {
	root, id, _ := strings.Cut(topic, "/")
	event := Event{ID: id, ReceivedAt: time.Now()}

	switch root {
	case protocol.RootTopKResultTopic:
		var res protocol.TopKResult
		if err := json.Unmarshal(payload, &res); err != nil {
			log.Printf("[WebSocket] Failed to parse result %s: %v", topic, err)
			return
		}
		event.Kind = KindResult
		event.Devices = res.Devices
	case protocol.RootInsufficientTopic:
		event.Kind = KindNotice
		event.Notice = string(payload)
	case protocol.RootSensorsResultTopic:
		var res protocol.SensorResult
		if err := json.Unmarshal(payload, &res); err != nil {
			event.Kind = KindNotice
			event.Notice = string(payload)
			break
		}
		event.Kind = KindSensors
		event.Sensors = res.Sensors
	default:
		return
	}

	select {
	case h.broadcast <- event:
	default:
		log.Printf("[WebSocket] Broadcast channel full, dropping message")
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan Event, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.push()
	go c.drain()
}

// drain discards inbound frames until the connection fails, keeping pong
// handling alive.
func (c *Client) drain() {
	defer c.leave()

	c.conn.SetReadLimit(256)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] Client dropped: %v", err)
			}
			return
		}
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

// push writes events and keepalive pings until the hub closes send or a
// write fails.
func (c *Client) push() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeTimeout))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
