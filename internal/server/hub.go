package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// wsMessage is the envelope for every frame sent to event subscribers.
type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsClient wraps a connection with a write mutex so concurrent broadcasts
// never interleave frames.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans pipeline events out to websocket subscribers, scoped per job.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*wsClient]struct{})}
}

// Subscribe registers a connection for a job's events and returns the
// client handle used to unsubscribe.
func (h *Hub) Subscribe(jobID string, conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*wsClient]struct{})
	}
	h.subs[jobID][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) Unsubscribe(jobID string, c *wsClient) {
	h.mu.Lock()
	if set, ok := h.subs[jobID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, jobID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends one event to every subscriber of the job. Clients that
// fail to accept the write within the deadline are dropped.
func (h *Hub) Broadcast(jobID, typ string, payload any) {
	data, err := json.Marshal(wsMessage{Type: typ, Payload: payload})
	if err != nil {
		zap.L().Error("server: marshal ws message", zap.String("type", typ), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.subs[jobID]))
	for c := range h.subs[jobID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			zap.L().Warn("server: dropping slow ws client",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			h.Unsubscribe(jobID, c)
			_ = c.conn.Close()
		}
	}
}

// Subscribers reports the current subscriber count for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
