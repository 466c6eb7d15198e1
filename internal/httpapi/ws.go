package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// RenderEvent tells connected view clients to re-read the store. Scope
// narrows the refresh: "page" carries the active page id after navigation,
// "reviews"/"cart"/"session" flag partial refreshes.
type RenderEvent struct {
	Scope string `json:"scope"`
	Page  string `json:"page,omitempty"`
}

// Hub fans render events out to every connected view client.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

func NewHub(allowedOrigin string) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 16),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run owns the client set. Call once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[ws] client connected, total=%d", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[ws] client disconnected, total=%d", total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("[ws] write failed, dropping client: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for every client. Never blocks: when the queue
// is full the event is dropped, since a newer one supersedes it anyway.
func (h *Hub) Broadcast(event RenderEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] encode event: %v", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		log.Printf("[ws] broadcast queue full, dropping %s event", event.Scope)
	}
}

// handleWS upgrades the connection and parks it in the hub. Clients only
// listen; inbound frames are drained and discarded.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[ws] read error: %v", err)
				}
				return
			}
		}
	}()
}
