package presenter

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"obdrelay/internal/models"
)

// Frame is the JSON message pushed to live-feed clients. Exactly one field
// is set per frame, except the greeting which carries the current state.
type Frame struct {
	State  *models.ConnectionState `json:"state,omitempty"`
	Sample *models.VehicleSample   `json:"sample,omitempty"`
	Upload *models.UploadResult    `json:"upload,omitempty"`
	Stamp  int64                   `json:"ts"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts updates to WebSocket clients. It serves the upgrade
// endpoint itself.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	state   models.ConnectionState
	sample  *models.VehicleSample
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		log:     logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	greeting := Frame{State: &h.state, Sample: h.sample, Stamp: time.Now().UnixMilli()}
	n := len(h.clients)
	if data, err := json.Marshal(greeting); err == nil {
		client.send <- data
	}
	h.mu.Unlock()
	h.log.Info("feed client connected", zap.Int("clients", n))

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, client)
			close(client.send)
			h.mu.Unlock()
			h.log.Info("feed client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(f Frame) {
	f.Stamp = time.Now().UnixMilli()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client, skip
		}
	}
}

func (h *Hub) ConnectionChanged(state models.ConnectionState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
	h.broadcast(Frame{State: &state})
}

func (h *Hub) SampleUpdated(s models.VehicleSample) {
	h.mu.Lock()
	h.sample = &s
	h.mu.Unlock()
	h.broadcast(Frame{Sample: &s})
}

func (h *Hub) UploadFinished(r models.UploadResult) {
	h.broadcast(Frame{Upload: &r})
}
