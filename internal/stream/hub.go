package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Message types sent to stream clients.
const (
	TypeSnapshot = "speaker.snapshot"
	TypeChanged  = "speaker.changed"
)

// Message is one frame on the stream.
type Message struct {
	Type      string             `json:"type"`
	IP        string             `json:"ip"`
	Fields    []string           `json:"fields,omitempty"`
	Change    *kef.SpeakerChange `json:"change,omitempty"`
	Status    kef.SpeakerStatus  `json:"status"`
	Timestamp string             `json:"timestamp"`
}

// SnapshotFunc returns the current status of every speaker, keyed by IP.
type SnapshotFunc func() map[string]kef.SpeakerStatus

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// Hub fans speaker changes out to WebSocket clients. A client that falls
// behind by more than sendBuffer frames is disconnected.
type Hub struct {
	snapshots SnapshotFunc
	logger    *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. snapshots may be nil.
func NewHub(snapshots SnapshotFunc, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		snapshots: snapshots,
		logger:    logger,
		clients:   make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request. An optional ?ip= restricts the stream to one
// speaker. Every current snapshot is sent before live changes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	c := &client{conn: conn, ip: r.URL.Query().Get("ip"), send: make(chan []byte, sendBuffer)}
	initial := h.snapshotFrames(c.ip)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	for _, frame := range initial {
		select {
		case c.send <- frame:
		default:
		}
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) snapshotFrames(only string) [][]byte {
	if h.snapshots == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var frames [][]byte
	for ip, status := range h.snapshots() {
		if only != "" && only != ip {
			continue
		}
		frame, err := json.Marshal(Message{Type: TypeSnapshot, IP: ip, Status: status, Timestamp: now})
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

// SpeakerChanged broadcasts a change frame to every matching client.
func (h *Hub) SpeakerChanged(key string, change kef.SpeakerChange, snapshot kef.SpeakerStatus) {
	frame, err := json.Marshal(Message{
		Type:      TypeChanged,
		IP:        key,
		Fields:    change.Fields(),
		Change:    &change,
		Status:    snapshot,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Printf("STREAM: encode %s: %v", key, err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.ip != "" && c.ip != key {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Printf("STREAM: dropping slow client %s", c.conn.RemoteAddr())
		h.remove(c)
	}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// remove unregisters c and closes its send channel; writePump then closes the
// connection. Safe to call more than once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
